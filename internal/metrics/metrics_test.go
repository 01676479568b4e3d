package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordSlotsCreated_IgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(slotsCreated.WithLabelValues("recurring"))

	RecordSlotsCreated("recurring", 0)
	RecordSlotsCreated("recurring", -3)
	RecordSlotsCreated("recurring", 4)

	require.Equal(t, before+4, testutil.ToFloat64(slotsCreated.WithLabelValues("recurring")))
}

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(requestTransitions.WithLabelValues("accepted", "provider"))
	RecordTransition("accepted", "provider")
	require.Equal(t, before+1, testutil.ToFloat64(requestTransitions.WithLabelValues("accepted", "provider")))
}

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	RecordReservationConflict()
	RecordGRPCRequest("/philbox.scheduling.v1.SchedulingService/AcceptRequest", "OK", 0)
	RecordGRPCRequest("/philbox.scheduling.v1.SchedulingService/AcceptRequest", "OK", 20*time.Millisecond)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	require.True(t, strings.Contains(text, "scheduling_requests_reservation_conflicts_total"))
	require.True(t, strings.Contains(text, "scheduling_grpc_request_duration_seconds_bucket"))
}
