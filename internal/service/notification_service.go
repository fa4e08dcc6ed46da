package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-signup-api/internal/models"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
	"github.com/noah-isme/course-signup-api/pkg/jobs"
	"github.com/noah-isme/course-signup-api/pkg/mailer"
)

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type rateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// NotificationService hands outcome events to the mail queue.
type NotificationService struct {
	queue   jobDispatcher
	metrics *MetricsService
}

// NewNotificationService constructs the dispatcher.
func NewNotificationService(queue jobDispatcher, metrics *MetricsService) *NotificationService {
	return &NotificationService{queue: queue, metrics: metrics}
}

// Enqueue schedules delivery of a notification. It does not wait for the mail to be sent.
func (s *NotificationService) Enqueue(notification models.Notification) error {
	if notification.Mail == "" {
		return appErrors.Clone(appErrors.ErrNotificationDispatch, "notification has no recipient")
	}
	job := jobs.Job{ID: uuid.NewString(), Type: string(notification.Kind), Payload: notification}
	if err := s.queue.Enqueue(job); err != nil {
		s.metrics.ObserveNotification(notification.Kind, "dropped")
		return appErrors.Wrap(err, appErrors.ErrNotificationDispatch.Code, appErrors.ErrNotificationDispatch.Status, "failed to enqueue notification")
	}
	return nil
}

// NotificationWorkerConfig bounds per-recipient delivery.
type NotificationWorkerConfig struct {
	RateLimit  int
	RateWindow time.Duration
}

// NotificationWorker renders and delivers queued notifications.
type NotificationWorker struct {
	mailer    mailer.Mailer
	limiter   rateLimiter
	templates map[models.NotificationKind]*mailTemplate
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       NotificationWorkerConfig
}

// NewNotificationWorker constructs a worker. limiter may be nil.
func NewNotificationWorker(m mailer.Mailer, limiter rateLimiter, metrics *MetricsService, logger *zap.Logger, cfg NotificationWorkerConfig) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Hour
	}
	return &NotificationWorker{
		mailer:    m,
		limiter:   limiter,
		templates: defaultMailTemplates(),
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Handle processes one queued notification. Errors make the queue retry;
// permanent failures are wrapped with jobs.Permanent and throttled mails are
// postponed with jobs.Defer.
func (w *NotificationWorker) Handle(ctx context.Context, job jobs.Job) error {
	notification, ok := job.Payload.(models.Notification)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected notification payload %T", job.Payload))
	}

	if w.limiter != nil {
		allowed, retryAfter, err := w.limiter.Allow(ctx, "mail:"+strings.ToLower(notification.Mail), w.cfg.RateLimit, w.cfg.RateWindow)
		if err != nil {
			w.logger.Warn("notification rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			// postponed until the recipient's window resets; retries stay untouched
			if retryAfter <= 0 {
				retryAfter = w.cfg.RateWindow
			}
			w.metrics.ObserveNotification(notification.Kind, "rate_limited")
			return jobs.Defer(appErrors.Clone(appErrors.ErrRateLimited, "recipient exceeded mail rate limit"), retryAfter)
		}
	}

	msg, err := w.Render(notification)
	if err != nil {
		w.metrics.ObserveNotification(notification.Kind, "failed")
		return jobs.Permanent(err)
	}

	if err := w.mailer.Send(ctx, msg); err != nil {
		w.metrics.ObserveNotification(notification.Kind, "failed")
		if errors.Is(err, mailer.ErrRejected) {
			return jobs.Permanent(err)
		}
		return err
	}
	w.metrics.ObserveNotification(notification.Kind, "sent")
	w.logger.Debug("notification sent",
		zap.String("kind", string(notification.Kind)),
		zap.String("applicant_id", notification.ApplicantID),
		zap.String("course_id", notification.CourseID),
		zap.Int("attempt", job.Attempt))
	return nil
}

// Render builds the mail for a notification.
func (w *NotificationWorker) Render(notification models.Notification) (mailer.Message, error) {
	tpl, ok := w.templates[notification.Kind]
	if !ok {
		return mailer.Message{}, fmt.Errorf("no mail template for %q", notification.Kind)
	}
	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, notification); err != nil {
		return mailer.Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tpl.body.Execute(&body, notification); err != nil {
		return mailer.Message{}, fmt.Errorf("render body: %w", err)
	}
	return mailer.Message{
		To:      mail.Address{Name: notification.ApplicantName, Address: notification.Mail},
		Subject: strings.TrimSpace(subject.String()),
		Text:    body.String(),
	}, nil
}

// OnExhausted is registered with the queue to report undeliverable mails.
func (w *NotificationWorker) OnExhausted(job jobs.Job, err error) {
	notification, _ := job.Payload.(models.Notification)
	w.metrics.ObserveNotification(notification.Kind, "exhausted")
	w.logger.Error("notification undeliverable",
		zap.String("kind", string(notification.Kind)),
		zap.String("applicant_id", notification.ApplicantID),
		zap.String("course_id", notification.CourseID),
		zap.Int("attempts", job.Attempt),
		zap.Error(err))
}

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var mailFuncs = template.FuncMap{
	"euro": func(cents int64) string { return fmt.Sprintf("%d,%02d EUR", cents/100, cents%100) },
	"date": func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format("02.01.2006 15:04")
	},
}

const mailFooter = `
Your language center`

var mailTemplateSources = map[models.NotificationKind][2]string{
	models.NotificationRegistered: {
		`Registration for {{.CourseName}}`,
		`Hello {{.ApplicantName}},

we received your registration for {{.CourseName}}.
{{if .Waiting}}You are on the waiting list. Seats are allocated automatically and we will inform you about the result.{{else}}Your seat is confirmed. Please pay {{euro .AmountDue}}.{{end}}
{{if .SignoffSecret}}
To cancel your registration yourself, use this code: {{.SignoffSecret}}
{{end}}` + mailFooter,
	},
	models.NotificationActivated: {
		`Seat confirmed: {{.CourseName}}`,
		`Hello {{.ApplicantName}},

you received a seat in {{.CourseName}}. Please pay {{euro .AmountDue}}.
You can cancel on your own until {{date .SignoffWindow}}.
` + mailFooter,
	},
	models.NotificationRestocked: {
		`Seat available after all: {{.CourseName}}`,
		`Hello {{.ApplicantName}},

a seat in {{.CourseName}} became available and has been assigned to you. Please pay {{euro .AmountDue}}.
You can cancel on your own until {{date .SignoffWindow}}.
` + mailFooter,
	},
	models.NotificationRejectedPool: {
		`No seat yet: {{.CourseName}}`,
		`Hello {{.ApplicantName}},

all seats of {{.CourseName}} were allocated in the lottery. You stay in the pool and will be considered automatically when a seat becomes available.
` + mailFooter,
	},
	models.NotificationRejectedWaiting: {
		`Waiting list: {{.CourseName}}`,
		`Hello {{.ApplicantName}},

{{.CourseName}} is fully booked. You are on the waiting list and will be informed when a seat becomes available.
` + mailFooter,
	},
}

func defaultMailTemplates() map[models.NotificationKind]*mailTemplate {
	out := make(map[models.NotificationKind]*mailTemplate, len(mailTemplateSources))
	for kind, src := range mailTemplateSources {
		out[kind] = &mailTemplate{
			subject: template.Must(template.New(string(kind) + "_subject").Funcs(mailFuncs).Parse(src[0])),
			body:    template.Must(template.New(string(kind) + "_body").Funcs(mailFuncs).Parse(src[1])),
		}
	}
	return out
}
