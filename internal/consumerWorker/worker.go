package consumerWorker

import (
	"context"
	"encoding/json"

	"github.com/wb-go/wbf/zlog"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/dto"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/mailer"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/rabbit"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/service"
)

// Reader consumes notification jobs from RabbitMQ, records them in the
// delivery ledger and sends the email. The ledger record is the at-most-once
// gate: a redelivered or duplicate job finds the row already present and is
// dropped without a second send.
type Reader struct {
	RMQ    *rabbit.Client
	ledger *service.LedgerService
	mail   *mailer.Mailer
	done   chan struct{}
	cancel context.CancelFunc
}

func NewReader(rmq *rabbit.Client, ledger *service.LedgerService, mail *mailer.Mailer) *Reader {
	return &Reader{
		RMQ:    rmq,
		ledger: ledger,
		mail:   mail,
		done:   make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	zlog.Logger.Info().Msg("🐇 Notification worker started")

	go func() {
		defer close(r.done)

		handler := func(body []byte) error {
			var job dto.NotificationJob
			if err := json.Unmarshal(body, &job); err != nil {
				zlog.Logger.Error().
					Err(err).
					Msgf("Failed to unmarshal notification job: %s", string(body))
				return err
			}

			zlog.Logger.Info().
				Int64("user_id", job.UserID).
				Str("kind", string(job.Kind)).
				Msg("📩 Received notification job")

			inserted, err := r.ledger.Record(cctx, job.UserID, job.EventID, job.Kind, job.PayloadRef)
			if err != nil {
				zlog.Logger.Error().
					Err(err).
					Int64("user_id", job.UserID).
					Msg("Failed to record delivery")
				return err
			}
			if !inserted {
				zlog.Logger.Info().
					Int64("user_id", job.UserID).
					Str("kind", string(job.Kind)).
					Msg("⏳ Delivery already recorded, skipping email")
				return nil
			}

			if err := r.mail.Send(job.Kind, job.EventTitle, job.Email); err != nil {
				// Delivery failures are not the engine's concern and the
				// ledger row already exists, so the job is not retried.
				zlog.Logger.Warn().
					Err(err).
					Str("email", job.Email).
					Msg("Failed to send notification email")
			}
			return nil
		}

		if err := r.RMQ.Consume(handler); err != nil {
			zlog.Logger.Error().Err(err).Msg("Failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("🛑 Notification worker stopped by context")
	}()
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
