package handler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-forum-bot/internal/config"
	"telegram-forum-bot/internal/event"
)

// Questionnaire flow states. The gate form has a single response state, the
// neighbor introduction walks three questions.
type formState int

const (
	formGateAwaiting formState = iota
	formNeighborName
	formNeighborBuilding
	formNeighborAbout
)

type formKey struct {
	chatID int64
	userID int64
}

type formSession struct {
	state     formState
	topicID   int64
	updatedAt time.Time
	name      string
	building  string
}

const gateQuestionnaire = "заполни анкету:\n" +
	"1) Дата и время заезда\n" +
	"2) Номер автомобиля\n" +
	"3) Цвет и марка машины\n" +
	"4) Номер был в постоянной базе пропусков? (да/нет)\n" +
	"5) Вы выезжали из ЖК или заезжали?"

// FormsHandler runs the two questionnaire flows: the admin-initiated gate
// access form and the newcomer introduction in the neighbors topic. Sessions
// live in memory per (chat, user); an unanswered introduction expires and
// restarts on the user's next message in the topic.
type FormsHandler struct {
	cfg       *config.Config
	messenger Messenger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[formKey]*formSession
}

// NewFormsHandler creates a new FormsHandler.
func NewFormsHandler(cfg *config.Config, messenger Messenger, now func() time.Time) *FormsHandler {
	return &FormsHandler{
		cfg:       cfg,
		messenger: messenger,
		now:       now,
		sessions:  make(map[formKey]*formSession),
	}
}

// HandleGateForm handles the admin /form command: replying to a member's
// message in the gate topic sends them the access questionnaire and arms the
// flow so their next message is forwarded to the moderation log.
func (h *FormsHandler) HandleGateForm(c tele.Context) error {
	ev, ok := event.FromContext(c)
	if !ok {
		return nil
	}
	if h.cfg.Bot.GateTopicID == 0 || ev.TopicID != h.cfg.Bot.GateTopicID {
		return c.Reply("Команда /form работает только в топике 'Шлагбаум'.")
	}
	target, ok := replyTarget(c)
	if !ok {
		return c.Reply("Используй /form как ответ на сообщение пользователя.")
	}

	h.mu.Lock()
	h.sessions[formKey{ev.ChatID, target.ID}] = &formSession{
		state:     formGateAwaiting,
		topicID:   ev.TopicID,
		updatedAt: h.now(),
	}
	h.mu.Unlock()

	return c.Reply(mention(target) + ", " + gateQuestionnaire)
}

// Consume advances a member's active questionnaire, or starts the neighbor
// introduction for a fresh message in the neighbors topic. Returns true when
// the message belonged to a flow and must not reach the moderation pipeline.
func (h *FormsHandler) Consume(ev event.Event, sender *tele.User) bool {
	if ev.Kind != event.KindMessage || sender == nil ||
		ev.Text == "" || strings.HasPrefix(ev.Text, "/") {
		return false
	}

	key := formKey{ev.ChatID, ev.UserID}
	h.mu.Lock()
	s := h.sessions[key]
	if s != nil && h.expired(s, ev.Time) {
		// The introduction went unanswered; fall through so a message in
		// the neighbors topic starts over.
		delete(h.sessions, key)
		s = nil
	}
	if s == nil {
		if h.cfg.Bot.NeighborsTopicID == 0 || ev.TopicID != h.cfg.Bot.NeighborsTopicID {
			h.mu.Unlock()
			return false
		}
		h.sessions[key] = &formSession{
			state:     formNeighborName,
			topicID:   ev.TopicID,
			updatedAt: ev.Time,
		}
		h.mu.Unlock()
		h.ask(ev.ChatID, ev.TopicID, sender, "Добро пожаловать! Давай познакомимся. Как тебя зовут?")
		return true
	}

	switch s.state {
	case formGateAwaiting:
		delete(h.sessions, key)
		h.mu.Unlock()
		h.forwardGateResponse(ev, sender)
		return true
	case formNeighborName:
		s.name = ev.Text
		s.state = formNeighborBuilding
		s.updatedAt = ev.Time
		h.mu.Unlock()
		h.ask(ev.ChatID, s.topicID, sender, "В каком корпусе/доме живешь?")
		return true
	case formNeighborBuilding:
		s.building = ev.Text
		s.state = formNeighborAbout
		s.updatedAt = ev.Time
		h.mu.Unlock()
		h.ask(ev.ChatID, s.topicID, sender, "Чем увлекаешься или чем можешь быть полезен соседям?")
		return true
	default:
		delete(h.sessions, key)
		h.mu.Unlock()
		welcome := fmt.Sprintf(
			"Приветствуем нового соседа!\nИмя: %s\nДом/корпус: %s\nО себе: %s",
			s.name, s.building, ev.Text,
		)
		if _, err := h.messenger.SendToTopic(ev.ChatID, s.topicID, welcome); err != nil {
			log.Warn().Err(err).Msg("Failed to post neighbor welcome")
		}
		return true
	}
}

// expired reports whether an introduction sat unanswered past the timeout.
// The gate form waits indefinitely.
func (h *FormsHandler) expired(s *formSession, now time.Time) bool {
	if s.state == formGateAwaiting {
		return false
	}
	timeout := h.cfg.Forms.NeighborTimeout
	return timeout > 0 && now.Sub(s.updatedAt) > timeout
}

func (h *FormsHandler) forwardGateResponse(ev event.Event, sender *tele.User) {
	name := strings.TrimSpace(sender.FirstName + " " + sender.LastName)
	usernamePart := ""
	if sender.Username != "" {
		usernamePart = " @" + sender.Username
	}
	report := fmt.Sprintf(
		"#проблема_шлагбаум\nОтвет пользователя:\n%s\n\nОт пользователя (%s%s %d)",
		ev.Text, name, usernamePart, sender.ID,
	)
	if h.cfg.Bot.LogTopicID != 0 {
		if _, err := h.messenger.SendToTopic(ev.ChatID, h.cfg.Bot.LogTopicID, report); err != nil {
			log.Warn().Err(err).Msg("Failed to forward gate form response")
		}
	}
	h.ask(ev.ChatID, ev.TopicID, sender, "Спасибо! Заявка отправлена администраторам.")
}

func (h *FormsHandler) ask(chatID, topicID int64, sender *tele.User, text string) {
	if _, err := h.messenger.SendToTopic(chatID, topicID, mention(sender)+", "+text); err != nil {
		log.Warn().Err(err).Msg("Failed to send questionnaire prompt")
	}
}
