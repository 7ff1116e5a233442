// Package httpapi exposes a BatchStore over HTTP as spec.md §6 describes:
// POST submit/{shard} and GET get_reports/{shard}/{timestamp}, each mapping
// apperr.Error kinds to their HTTP status. The router and middleware follow
// the teacher's walletserver (gorilla/mux, a logging middleware, logrus).
package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tcn-coalition/rendezvous/internal/apperr"
	"github.com/tcn-coalition/rendezvous/internal/batchstore"
	"github.com/tcn-coalition/rendezvous/internal/reportcodec"
	"github.com/tcn-coalition/rendezvous/internal/shard"
	"github.com/tcn-coalition/rendezvous/internal/tcn"
	"github.com/tcn-coalition/rendezvous/internal/timebucket"
)

// maxSubmitBody is the content-length bound spec.md §6 places on submit:
// "max 2048 bytes".
const maxSubmitBody = 2048

const notFoundBody = "Error: 404 Not Found\nNote: The supported endpoints by this server are `submit/{shard}` and `get_reports/{shard}/{timestamp}`\n"

// Service is the BatchService: a BatchStore plus the TimeBucket it uses for
// the "current bucket" check on both submit and fetch.
type Service struct {
	store  *batchstore.Store
	bucket *timebucket.Bucket
	log    *logrus.Logger
}

// NewService constructs a BatchService backed by store and bucket.
func NewService(store *batchstore.Store, bucket *timebucket.Bucket, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: store, bucket: bucket, log: log}
}

// Router builds the mux.Router serving this service's two endpoints, with
// logging and panic-recovery middleware and a named-endpoints 404 body for
// any unmatched path.
func (s *Service) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(s.log))
	r.Use(recoveryMiddleware(s.log))
	r.HandleFunc("/submit/{shard}", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/get_reports/{shard}/{timestamp}", s.handleGetReports).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(notFoundBody))
	})
	return r
}

// writeAppErr folds the request id the logging middleware stamped onto r's
// context into the apperr chain as a captured span trace, then responds with
// the chain's status and message.
func writeAppErr(w http.ResponseWriter, log *logrus.Logger, r *http.Request, err error) {
	if id := requestID(r.Context()); id != "" {
		err = apperr.Wrap(err, "request "+id)
	}
	ae, ok := err.(*apperr.Error)
	if !ok {
		log.WithError(err).Error("unhandled error")
		http.Error(w, "UNHANDLED_REJECTION", http.StatusInternalServerError)
		return
	}
	if ae.Kind.Fatal() {
		log.WithField("chain", ae.Chain()).Error("fatal error kind")
	} else {
		log.WithField("chain", ae.Chain()).Warn("request failed")
	}
	http.Error(w, ae.Error(), ae.Status)
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	shID, err := shard.Parse(mux.Vars(r)["shard"])
	if err != nil {
		writeAppErr(w, s.log, r, apperr.New(apperr.KindMalformed, "invalid shard id"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitBody+1))
	if err != nil {
		writeAppErr(w, s.log, r, apperr.Wrap(apperr.New(apperr.KindMalformed, err.Error()), "read submit body"))
		return
	}
	if len(body) > maxSubmitBody {
		writeAppErr(w, s.log, r, apperr.New(apperr.KindMalformed, "body exceeds 2048 bytes"))
		return
	}

	sr, err := reportcodec.Read(bytes.NewReader(body))
	if errors.Is(err, reportcodec.ErrEof) {
		err = apperr.New(apperr.KindMalformed, "empty report body")
	}
	if err != nil {
		writeAppErr(w, s.log, r, apperr.Wrap(err, "decode submitted report"))
		return
	}
	if _, err := tcn.Verify(sr); err != nil {
		writeAppErr(w, s.log, r, apperr.Wrap(err, "verify submitted report"))
		return
	}

	if err := s.store.Submit(shID, sr, s.bucket.Now()); err != nil {
		writeAppErr(w, s.log, r, apperr.Wrap(err, "submit to batch store"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("report saved\n"))
}

func (s *Service) handleGetReports(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	shID, err := shard.Parse(vars["shard"])
	if err != nil {
		writeAppErr(w, s.log, r, apperr.New(apperr.KindMalformed, "invalid shard id"))
		return
	}
	tsRaw, err := timebucket.ParseTimestamp(vars["timestamp"])
	if err != nil {
		writeAppErr(w, s.log, r, apperr.New(apperr.KindMalformed, "invalid timestamp"))
		return
	}

	batch, err := s.store.Fetch(shID, tsRaw, s.bucket.Now())
	if err != nil {
		writeAppErr(w, s.log, r, apperr.Wrap(err, "fetch from batch store"))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(batch)
}
