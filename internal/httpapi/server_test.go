package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/tcn-coalition/rendezvous/internal/batchstore"
	"github.com/tcn-coalition/rendezvous/internal/reportcodec"
	"github.com/tcn-coalition/rendezvous/internal/tcn"
	"github.com/tcn-coalition/rendezvous/internal/timebucket"
)

func newTestService(t *testing.T, mock *clock.Mock) *Service {
	t.Helper()
	bucket := timebucket.NewWithClock(6, mock)
	store := batchstore.New()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewService(store, bucket, log)
}

func signedBody(t *testing.T, j1, j2 uint16) []byte {
	t.Helper()
	rak, err := tcn.NewRAK()
	if err != nil {
		t.Fatalf("NewRAK: %v", err)
	}
	sr, err := tcn.CreateReport(rak, tcn.MemoTypeCoEpiV1, []byte("hi"), j1, j2)
	if err != nil {
		t.Fatalf("CreateReport: %v", err)
	}
	var buf bytes.Buffer
	if err := reportcodec.Write(sr, &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf.Bytes()
}

// TestS1SubmitThenFetchNextBucket is scenario S1 from spec.md §6: a report
// submitted in one bucket is retrievable once the bucket has rolled over.
func TestS1SubmitThenFetchNextBucket(t *testing.T) {
	mock := clock.NewMock()
	svc := newTestService(t, mock)
	router := svc.Router()

	body := signedBody(t, 1, 20)
	req := httptest.NewRequest(http.MethodPost, "/submit/0", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body = %s", rec.Code, rec.Body.String())
	}

	prevBucket := svc.bucket.Now()
	mock.Add(6 * time.Second)

	fetchReq := httptest.NewRequest(http.MethodGet, "/get_reports/0/"+prevBucket.String(), nil)
	fetchRec := httptest.NewRecorder()
	router.ServeHTTP(fetchRec, fetchReq)
	if fetchRec.Code != http.StatusOK {
		t.Fatalf("fetch status = %d, body = %s", fetchRec.Code, fetchRec.Body.String())
	}
	if fetchRec.Body.Len() == 0 {
		t.Fatal("fetch returned empty body")
	}
}

// TestS2Embargo is scenario S2: a fetch of the live bucket is 403, and the
// same bucket fetched once the clock has rolled into the next bucket is 200.
func TestS2Embargo(t *testing.T) {
	mock := clock.NewMock()
	svc := newTestService(t, mock)
	router := svc.Router()

	body := signedBody(t, 1, 5)
	req := httptest.NewRequest(http.MethodPost, "/submit/0", bytes.NewReader(body))
	router.ServeHTTP(httptest.NewRecorder(), req)

	liveBucket := svc.bucket.Now()
	liveReq := httptest.NewRequest(http.MethodGet, "/get_reports/0/"+liveBucket.String(), nil)
	liveRec := httptest.NewRecorder()
	router.ServeHTTP(liveRec, liveReq)
	if liveRec.Code != http.StatusForbidden {
		t.Fatalf("embargoed fetch status = %d, want 403", liveRec.Code)
	}

	mock.Add(6 * time.Second)
	nextReq := httptest.NewRequest(http.MethodGet, "/get_reports/0/"+liveBucket.String(), nil)
	nextRec := httptest.NewRecorder()
	router.ServeHTTP(nextRec, nextReq)
	if nextRec.Code != http.StatusOK {
		t.Fatalf("fetch after rollover status = %d, want 200", nextRec.Code)
	}
}

// TestS3SealTerminality is scenario S3: a submit to an already-sealed bucket
// (simulating clock rewind) fails with 409.
func TestS3SealTerminality(t *testing.T) {
	mock := clock.NewMock()
	svc := newTestService(t, mock)
	router := svc.Router()

	rewindPoint := mock.Now()
	ts := svc.bucket.Now()
	req1 := httptest.NewRequest(http.MethodPost, "/submit/0", bytes.NewReader(signedBody(t, 1, 5)))
	router.ServeHTTP(httptest.NewRecorder(), req1)

	mock.Add(6 * time.Second)
	fetchReq := httptest.NewRequest(http.MethodGet, "/get_reports/0/"+ts.String(), nil)
	fetchRec := httptest.NewRecorder()
	router.ServeHTTP(fetchRec, fetchReq)
	if fetchRec.Code != http.StatusOK {
		t.Fatalf("fetch status = %d, want 200", fetchRec.Code)
	}

	mock.Set(rewindPoint) // simulate clock rewind back to the sealed bucket
	req2 := httptest.NewRequest(http.MethodPost, "/submit/0", bytes.NewReader(signedBody(t, 1, 5)))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusConflict {
		t.Fatalf("second submit status = %d, want 409", rec2.Code)
	}
}

// TestS4ShardPartition is scenario S4: a report submitted to one shard is
// invisible to a fetch of a different shard, but visible on its own shard.
func TestS4ShardPartition(t *testing.T) {
	mock := clock.NewMock()
	svc := newTestService(t, mock)
	router := svc.Router()

	body := signedBody(t, 1, 5)
	submitReq := httptest.NewRequest(http.MethodPost, "/submit/3", bytes.NewReader(body))
	submitRec := httptest.NewRecorder()
	router.ServeHTTP(submitRec, submitReq)
	if submitRec.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body = %s", submitRec.Code, submitRec.Body.String())
	}

	ts := svc.bucket.Now()
	mock.Add(6 * time.Second)

	otherShardReq := httptest.NewRequest(http.MethodGet, "/get_reports/5/"+ts.String(), nil)
	otherShardRec := httptest.NewRecorder()
	router.ServeHTTP(otherShardRec, otherShardReq)
	if otherShardRec.Code != http.StatusNotFound {
		t.Fatalf("fetch of uninvolved shard status = %d, want 404", otherShardRec.Code)
	}

	sameShardReq := httptest.NewRequest(http.MethodGet, "/get_reports/3/"+ts.String(), nil)
	sameShardRec := httptest.NewRecorder()
	router.ServeHTTP(sameShardRec, sameShardReq)
	if sameShardRec.Code != http.StatusOK {
		t.Fatalf("fetch of submitted shard status = %d, want 200", sameShardRec.Code)
	}
	if !bytes.Equal(sameShardRec.Body.Bytes(), body) {
		t.Fatalf("fetch of submitted shard returned unexpected bytes")
	}
}

// TestS6InvalidSignatureRejected is scenario S6: a well-formed frame with a
// flipped signature byte is rejected with 400 and leaves no server state.
func TestS6InvalidSignatureRejected(t *testing.T) {
	mock := clock.NewMock()
	svc := newTestService(t, mock)
	router := svc.Router()

	body := signedBody(t, 1, 5)
	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-1] ^= 0xFF // flip a byte inside the signature

	req := httptest.NewRequest(http.MethodPost, "/submit/0", bytes.NewReader(tampered))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("tampered submit status = %d, want 400", rec.Code)
	}

	mock.Add(6 * time.Second)
	fetchReq := httptest.NewRequest(http.MethodGet, "/get_reports/0/0", nil)
	fetchRec := httptest.NewRecorder()
	router.ServeHTTP(fetchRec, fetchReq)
	if fetchRec.Code != http.StatusNotFound {
		t.Fatalf("fetch after rejected submit status = %d, want 404 (no state change)", fetchRec.Code)
	}
}

func TestUnmatchedPathReturns404WithEndpointNames(t *testing.T) {
	mock := clock.NewMock()
	svc := newTestService(t, mock)
	router := svc.Router()

	req := httptest.NewRequest(http.MethodGet, "/nonsense", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("submit/{shard}")) || !bytes.Contains(rec.Body.Bytes(), []byte("get_reports/{shard}/{timestamp}")) {
		t.Fatalf("404 body does not name both endpoints: %s", rec.Body.String())
	}
}

func TestSubmitBodyOverLimitIsRejected(t *testing.T) {
	mock := clock.NewMock()
	svc := newTestService(t, mock)
	router := svc.Router()

	oversized := make([]byte, maxSubmitBody+1)
	req := httptest.NewRequest(http.MethodPost, "/submit/0", bytes.NewReader(oversized))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized submit status = %d, want 400", rec.Code)
	}
}

func TestGetReportsUnknownShardIs404(t *testing.T) {
	mock := clock.NewMock()
	svc := newTestService(t, mock)
	router := svc.Router()

	mock.Add(6 * time.Second)
	req := httptest.NewRequest(http.MethodGet, "/get_reports/999/0", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
