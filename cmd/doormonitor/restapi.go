package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/function61/doormonitor/pkg/dmstate"
	"github.com/function61/doormonitor/pkg/pushnotify"
	"github.com/function61/gokit/httputils"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/taskrunner"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type restApi struct {
	app  *dmstate.App
	conf *config
	logl *logex.Leveled
	now  func() time.Time
}

func newRestApi(app *dmstate.App, conf *config, logger *log.Logger) http.Handler {
	return newRestApiWithClock(app, conf, logger, time.Now)
}

func newRestApiWithClock(app *dmstate.App, conf *config, logger *log.Logger, now func() time.Time) http.Handler {
	api := &restApi{
		app:  app,
		conf: conf,
		logl: logex.Levels(logger),
		now:  now,
	}

	mux := httputils.NewMethodMux()

	// /?alives=true&alivesLimit=1&alerts=true&alertsLimit=10&view=html
	mux.GET.HandleFunc("/", api.authenticated(api.handleHistory))

	mux.GET.HandleFunc("/alive", api.authenticated(func(w http.ResponseWriter, r *http.Request) {
		api.handleRecord(w, dmdomain.KindAlive, "Alive signal logged successfully", "Error logging the alive signal")
	}))

	mux.GET.HandleFunc("/alert", api.authenticated(func(w http.ResponseWriter, r *http.Request) {
		api.handleRecord(w, dmdomain.KindAlert, "Alert logged successfully", "Error logging the alert")
	}))

	// /register?token=ExponentPushToken[...]
	if conf.RegisterRequiresAuth {
		mux.GET.HandleFunc("/register", api.authenticated(api.handleRegister))
	} else {
		mux.GET.HandleFunc("/register", api.handleRegister)
	}

	mux.GET.HandleFunc("/status", api.authenticated(func(w http.ResponseWriter, r *http.Request) {
		noCacheHeaders(w)

		status, err := app.LivenessStatus(api.now())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		handleJsonOutput(w, struct {
			Status string `json:"status"`
			Known  bool   `json:"known"`
			Up     bool   `json:"up"`
			Since  int64  `json:"seconds_since_last_alive"`
		}{status.String(), status.Known, status.Up, status.SecondsSince})
	}))

	mux.GET.HandleFunc("/ws", api.authenticated(api.handleLiveChannel))

	mux.GET.HandleFunc("/test", func(w http.ResponseWriter, r *http.Request) {
		handleJsonOutput(w, map[string]string{"message": "OK"})
	})

	mux.GET.Handle("/metrics", promhttp.HandlerFor(app.MetricsRegistry(), promhttp.HandlerOpts{}))

	return mux
}

func (a *restApi) handleHistory(w http.ResponseWriter, r *http.Request) {
	// "/" pattern catches everything
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	q, err := parseHistoryQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	noCacheHeaders(w)

	history, err := a.app.History(q)
	if err != nil {
		a.logl.Error.Printf("history: %v", err)
		http.Error(w, "Error reading logs", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("view") == "html" {
		status, err := a.app.LivenessStatus(a.now())
		if err != nil {
			a.logl.Error.Printf("history: %v", err)
			http.Error(w, "Error reading logs", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		if err := renderHistoryPage(w, history, status); err != nil {
			a.logl.Error.Printf("render: %v", err)
		}
		return
	}

	handleJsonOutput(w, history)
}

func (a *restApi) handleRecord(w http.ResponseWriter, kind dmdomain.Kind, okMsg string, errMsg string) {
	noCacheHeaders(w)

	if _, err := a.app.Record(kind, a.now()); err != nil {
		// already logged by Record()
		http.Error(w, errMsg, http.StatusInternalServerError)
		return
	}

	fmt.Fprintln(w, okMsg)
}

func (a *restApi) handleRegister(w http.ResponseWriter, r *http.Request) {
	noCacheHeaders(w)

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token missing", http.StatusBadRequest)
		return
	}

	result, err := a.app.RegisterDevice(token)
	if err != nil {
		if errors.Is(err, pushnotify.ErrMalformedToken) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			a.logl.Error.Printf("register: %v", err)
			http.Error(w, "Error registering device", http.StatusInternalServerError)
		}
		return
	}

	switch result {
	case pushnotify.Duplicate:
		fmt.Fprintln(w, "Device already registered")
	default:
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintln(w, "Device registered")
	}
}

func (a *restApi) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		if !credentialsMatch(query.Get("user"), query.Get("pass"), a.conf) {
			http.Error(w, "Forbidden: Invalid credentials.", http.StatusForbidden)
			return
		}

		next(w, r)
	}
}

func credentialsMatch(user string, pass string, conf *config) bool {
	userOk := subtle.ConstantTimeCompare([]byte(user), []byte(conf.User)) == 1
	passOk := subtle.ConstantTimeCompare([]byte(pass), []byte(conf.Pass)) == 1

	return userOk && passOk
}

// absent params keep their defaults. booleans are "true" or anything else (= false), like
// the sensor firmware and app have always sent them.
func parseHistoryQuery(r *http.Request) (dmdomain.HistoryQuery, error) {
	q := dmdomain.DefaultHistoryQuery()
	params := r.URL.Query()

	if value := params.Get("alives"); value != "" {
		q.Alives = value == "true"
	}
	if value := params.Get("alerts"); value != "" {
		q.Alerts = value == "true"
	}

	var err error
	if q.AlivesLimit, err = limitParam(params.Get("alivesLimit"), q.AlivesLimit); err != nil {
		return q, fmt.Errorf("alivesLimit: %w", err)
	}
	if q.AlertsLimit, err = limitParam(params.Get("alertsLimit"), q.AlertsLimit); err != nil {
		return q, fmt.Errorf("alertsLimit: %w", err)
	}

	return q, nil
}

func limitParam(value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}

	limit, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.New("not a number")
	}

	if limit < 0 {
		return 0, errors.New("must not be negative")
	}

	return limit, nil
}

func handleJsonOutput(w http.ResponseWriter, output interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(output); err != nil {
		panic(err)
	}
}

func noCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, must-revalidate")
}

func runStandaloneRestApi(ctx context.Context, conf *config, logger *log.Logger) error {
	app, err := newApp(conf, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    conf.Addr,
		Handler: newRestApi(app, conf, logex.Prefix("restapi", logger)),
	}

	tasks := taskrunner.New(ctx, logger)

	tasks.Start("listener "+srv.Addr, func(_ context.Context, _ string) error {
		return httputils.RemoveGracefulServerClosedError(srv.ListenAndServe())
	})

	tasks.Start("listenershutdowner", httputils.ServerShutdownTask(srv))

	if conf.NotifyOffline {
		tasks.Start("offlinewatcher", func(ctx context.Context, _ string) error {
			return runOfflineWatcher(ctx, app, offlineCheckInterval, logex.Prefix("offlinewatcher", logger))
		})
	}

	err = tasks.Wait()

	// let in-flight alert pushes finish
	app.WaitDispatches()

	return err
}
