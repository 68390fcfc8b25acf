package detector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectSendsMultipartAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/detect", r.URL.Path)
		assert.Equal(t, "0.5", r.URL.Query().Get("confidence"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "frame.jpg", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"yolov8n","detections":[
			{"classId":0,"className":"person","confidence":0.91,"box":[1,2,3,4]},
			{"classId":24,"className":"backpack","confidence":0.97,"box":[0,0,1,1]}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", false, time.Second)
	res, err := c.Detect(context.Background(), []byte{0xff, 0xd8}, "frame.jpg", 0.5)
	require.NoError(t, err)
	assert.Equal(t, "yolov8n", res.Model)
	require.Len(t, res.Detections, 2)
}

func TestDetectNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "", false, time.Second)
	_, err := c.Detect(context.Background(), []byte{1}, "f.jpg", 0.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestDetectEmptyImage(t *testing.T) {
	c := New("http://unused", "", false, time.Second)
	_, err := c.Detect(context.Background(), nil, "f.jpg", 0.5)
	assert.Error(t, err)
}

func TestDetectSkipReturnsCannedResult(t *testing.T) {
	c := New("http://unreachable.invalid", "", true, time.Second)
	res, err := c.Detect(context.Background(), nil, "", 0.5)
	require.NoError(t, err)
	assert.Equal(t, "mock", res.Model)
	require.NotNil(t, res.Best("person"))
}

func TestBestFiltersByLabel(t *testing.T) {
	res := &Result{Detections: []Detection{
		{ClassName: "backpack", Confidence: 0.97},
		{ClassName: "person", Confidence: 0.55},
		{ClassName: "Person", Confidence: 0.72},
	}}

	best := res.Best("person")
	require.NotNil(t, best)
	assert.Equal(t, 0.72, best.Confidence)

	top := res.Best("")
	require.NotNil(t, top)
	assert.Equal(t, "backpack", top.ClassName)

	assert.Nil(t, res.Best("car"))
	assert.Nil(t, (&Result{}).Best("person"))
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.NoError(t, New(srv.URL, "", false, time.Second).Health(context.Background()))
	assert.Error(t, New(srv.URL+"/missing", "", false, time.Second).Health(context.Background()))
	assert.NoError(t, New("http://unreachable.invalid", "", true, time.Second).Health(context.Background()))
}
