package service

import (
	"github.com/aakashsharma7/code-reviewer/core/config"
	"github.com/aakashsharma7/code-reviewer/internal/scheduler"
)

type Services struct {
	cfg       *config.Config
	scheduler *scheduler.Scheduler
}

func NewServices(cfg *config.Config, sched *scheduler.Scheduler) *Services {
	return &Services{cfg: cfg, scheduler: sched}
}

func (s *Services) Ingest() *IngestService {
	return NewIngestService(s.cfg.Webhooks, s.cfg.Env, s.scheduler)
}

func (s *Services) Jobs() *JobService {
	return NewJobService(s.scheduler)
}

func (s *Services) Identity() IdentityVerifier {
	return NewIdentityVerifier(s.cfg.WorkOS, s.cfg.AdminAPIKey)
}
