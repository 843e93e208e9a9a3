package server

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"nexus/internal/history"
	"nexus/internal/models"
)

const (
	overviewRange         = 24 * time.Hour
	overviewPushInterval  = 60 * time.Second
	overviewWriteTimeout  = 5 * time.Second
	overviewQueryParallel = 4

	overviewStateUnknown = "unknown"
	overviewStateOK      = "ok"
	overviewStateIssue   = "issue"
)

var overviewUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

type overviewSnapshot struct {
	GeneratedAt   time.Time      `json:"generated_at"`
	RangeStart    time.Time      `json:"range_start"`
	RangeEnd      time.Time      `json:"range_end"`
	BucketSeconds int            `json:"bucket_seconds"`
	Items         []overviewItem `json:"items"`
}

type overviewItem struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Group       string                 `json:"group,omitempty"`
	State       string                 `json:"state"`
	LastChecked *time.Time             `json:"last_checked"`
	Timeline    []models.TimelinePoint `json:"timeline"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.buildOverviewSnapshot(r.Context(), parseOverviewLimit(r))
	if err != nil {
		log.WithError(err).Error("Failed to build overview")
		writeError(w, http.StatusInternalServerError, "failed to build overview")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleOverviewWS(w http.ResponseWriter, r *http.Request) {
	limit := parseOverviewLimit(r)
	conn, err := overviewUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveOverviewConnection(conn, limit)
}

func (s *Server) serveOverviewConnection(conn *websocket.Conn, limit int) {
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.pushOverview(ctx, conn, limit); err != nil {
		return
	}

	ticker := time.NewTicker(overviewPushInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			if err := s.pushOverview(ctx, conn, limit); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) pushOverview(ctx context.Context, conn *websocket.Conn, limit int) error {
	snapshot, err := s.buildOverviewSnapshot(ctx, limit)
	if err != nil {
		log.WithError(err).Warn("Failed to build overview for websocket client")
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(overviewWriteTimeout))
	return conn.WriteJSON(snapshot)
}

// buildOverviewSnapshot renders one timeline per public service over the
// last 24 hours. A service whose history cannot be read still appears, with
// every point marked missing.
func (s *Server) buildOverviewSnapshot(ctx context.Context, limit int) (overviewSnapshot, error) {
	now := time.Now().UTC()
	start := now.Add(-overviewRange)

	services, err := s.services.ListServices(ctx)
	if err != nil {
		return overviewSnapshot{}, err
	}
	visible := make([]models.Service, 0, len(services))
	for _, svc := range services {
		if svc.Public {
			visible = append(visible, svc)
		}
	}
	if limit > 0 && limit < len(visible) {
		visible = visible[:limit]
	}

	hourly := make([][]models.HealthPoint, len(visible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(overviewQueryParallel)
	for i, svc := range visible {
		if !svc.CheckHealth {
			continue
		}
		g.Go(func() error {
			hist, err := s.history.QueryHistory(gctx, svc.ID)
			if err != nil {
				log.WithError(err).WithField("service_id", svc.ID).Debug("Overview history unavailable")
				return nil
			}
			hourly[i] = hist.Hourly
			return nil
		})
	}
	_ = g.Wait()

	items := make([]overviewItem, 0, len(visible))
	for i, svc := range visible {
		timeline := history.BuildServiceTimeline(svc, hourly[i], start, now, history.DefaultTimelinePoints)
		items = append(items, overviewItem{
			ID:          svc.ID,
			Name:        fallbackName(svc),
			Group:       svc.Group,
			State:       overviewState(svc.HealthStatus),
			LastChecked: svc.LastChecked,
			Timeline:    timeline.Timeline,
		})
	}

	return overviewSnapshot{
		GeneratedAt:   now,
		RangeStart:    start,
		RangeEnd:      now,
		BucketSeconds: int(overviewRange.Seconds()) / history.DefaultTimelinePoints,
		Items:         items,
	}, nil
}

func overviewState(status models.HealthStatus) string {
	switch status {
	case models.StatusOnline:
		return overviewStateOK
	case models.StatusOffline:
		return overviewStateIssue
	default:
		return overviewStateUnknown
	}
}

func fallbackName(svc models.Service) string {
	if name := strings.TrimSpace(svc.Name); name != "" {
		return name
	}
	return svc.ID
}

func parseOverviewLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0
	}
	return value
}
