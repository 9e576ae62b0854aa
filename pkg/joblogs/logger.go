package joblogs

import (
	"context"
	"runtime/debug"

	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/tankobon/tankobon/pkg/models"
)

const maxDataValueLen = 1024

// JobLogger writes each line to the process log and to the job's log.
type JobLogger struct {
	ctx     context.Context
	jobID   int
	service *Service
	log     logger.Logger
}

func (svc *Service) NewJobLogger(ctx context.Context, jobID int) *JobLogger {
	return &JobLogger{
		ctx:     ctx,
		jobID:   jobID,
		service: svc,
		log:     logger.FromContext(ctx),
	}
}

func (l *JobLogger) Info(msg string, data logger.Data) {
	l.log.Info(msg, data)
	l.persist(models.JobLogLevelInfo, msg, data, nil)
}

func (l *JobLogger) Warn(msg string, data logger.Data) {
	l.log.Warn(msg, data)
	l.persist(models.JobLogLevelWarn, msg, data, nil)
}

// Error records err and the current stack.
func (l *JobLogger) Error(msg string, err error, data logger.Data) {
	l.log.Err(err).Error(msg, data)

	fields := logger.Data{}
	for k, v := range data {
		fields[k] = v
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	stack := string(debug.Stack())
	l.persist(models.JobLogLevelError, msg, fields, &stack)
}

// persist never fails the job: a lost log line is only reported.
func (l *JobLogger) persist(level, msg string, data logger.Data, stack *string) {
	line := &models.JobLog{
		JobID:      l.jobID,
		Level:      level,
		Message:    msg,
		Data:       encodeData(data),
		StackTrace: stack,
	}
	if err := l.service.CreateJobLog(l.ctx, line); err != nil {
		l.log.Err(err).Warn("failed to persist job log")
	}
}

func encodeData(data logger.Data) *string {
	if len(data) == 0 {
		return nil
	}
	trimmed := make(logger.Data, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			v = truncateMiddle(s, maxDataValueLen)
		}
		trimmed[k] = v
	}
	b, err := json.Marshal(trimmed)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func truncateMiddle(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	half := (maxLen - 5) / 2
	return s[:half] + " ... " + s[len(s)-half:]
}
