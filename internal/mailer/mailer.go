package mailer

import (
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
)

// Config carries SMTP settings; credentials come from the application config,
// never from code.
type Config struct {
	Host     string
	Port     string
	From     string
	Password string
}

type Mailer struct {
	cfg Config
	log *zerolog.Logger
}

func New(cfg Config, log *zerolog.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: log}
}

// Send delivers one notification email for the given kind. Unknown kinds are
// skipped silently so new ledger kinds do not break the worker.
func (m *Mailer) Send(kind model.DeliveryKind, eventTitle, recipient string) error {
	subject, body, ok := renderMessage(kind, eventTitle)
	if !ok {
		m.log.Debug().Str("kind", string(kind)).Msg("no email template for kind, skipping")
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		m.cfg.From, recipient, subject, body,
	)

	addr := m.cfg.Host + ":" + m.cfg.Port
	auth := smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Host)

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{recipient}, []byte(msg)); err != nil {
		m.log.Warn().Msgf("Ошибка при отправке email пользователю %s: %v", recipient, err)
		return fmt.Errorf("send email: %w", err)
	}

	m.log.Info().Msgf("📧 Письмо отправлено пользователю %s (kind: %s)", recipient, kind)
	return nil
}

func renderMessage(kind model.DeliveryKind, eventTitle string) (subject, body string, ok bool) {
	switch kind {
	case model.DeliveryNewEvent:
		return "🎉 Новое мероприятие",
			fmt.Sprintf("Здравствуйте!\n\nОткрыто новое мероприятие «%s». Заходите посмотреть детали и зарегистрироваться.", eventTitle),
			true
	case model.DeliveryRegistrationStarted:
		return "🚀 Регистрация открыта",
			fmt.Sprintf("Здравствуйте!\n\nРегистрация на «%s» уже открыта. Успейте занять место.", eventTitle),
			true
	case model.DeliveryRegistrationEndsSoon:
		return "⏳ Регистрация скоро закроется",
			fmt.Sprintf("Здравствуйте!\n\nДо конца регистрации на «%s» остался 1 час.", eventTitle),
			true
	case model.DeliveryWaitlistInvite:
		return "🔥 Освободилось место",
			fmt.Sprintf("Здравствуйте!\n\nНа «%s» освободилось место. Подтвердите участие в течение 12 часов, иначе место уйдёт следующему в очереди.", eventTitle),
			true
	case model.DeliveryConfirmationRequest:
		return "✅ Подтвердите участие",
			fmt.Sprintf("Здравствуйте!\n\n«%s» уже скоро. Подтвердите участие в течение 12 часов.", eventTitle),
			true
	case model.DeliveryEventReminder:
		return "⏰ Напоминание",
			fmt.Sprintf("Здравствуйте!\n\nДо начала «%s» осталось 2 часа.", eventTitle),
			true
	case model.DeliveryPassportReminder:
		return "🛂 Проверьте паспортные данные",
			fmt.Sprintf("Здравствуйте!\n\nДля оформления проходки на «%s» проверьте паспортные данные участников.", eventTitle),
			true
	}
	return "", "", false
}
