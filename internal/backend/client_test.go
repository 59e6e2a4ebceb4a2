package backend_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/odsyjr2/detection-supervisor/internal/backend"
	"github.com/odsyjr2/detection-supervisor/internal/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ActiveStreams_ParsesResponse(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"cctvs":[{"stream_id":"cam-1","source_type":"live_http","url":"http://cam/1","lat":37.5,"lon":127.0,"location_name":"Gangnam"}]}`)

	c := backend.NewWithClient("http://backend.local", mock)
	streams, err := c.ActiveStreams(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, "cam-1", streams[0].StreamID)
	assert.Equal(t, "live_http", streams[0].SourceType)
	assert.Equal(t, 1, mock.RequestCount())
}

func TestClient_ActiveStreams_ParsesBareArrayResponse(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `[{"stream_id":"cam-2","source_type":"video_file","path":"/data/cam2.mp4","lat":37.4,"lon":126.9,"location_name":"Seocho","fps":15}]`)

	c := backend.NewWithClient("http://backend.local", mock)
	streams, err := c.ActiveStreams(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, "cam-2", streams[0].StreamID)
	assert.Equal(t, 15.0, streams[0].FPS)
}

func TestClient_ActiveStreams_NonOKStatusIsError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusServiceUnavailable, "")

	c := backend.NewWithClient("http://backend.local", mock)
	_, err := c.ActiveStreams(context.Background())
	assert.Error(t, err)
}
