package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-forum-bot/internal/config"
	"telegram-forum-bot/internal/event"
	"telegram-forum-bot/internal/game/blackjack"
	"telegram-forum-bot/internal/metrics"
	"telegram-forum-bot/internal/model"
	"telegram-forum-bot/internal/repository"
)

// Callback actions for the inline game keyboard.
const (
	cbJoin   = "bj_join"
	cbDeal   = "bj_deal"
	cbHit    = "bj_hit"
	cbStand  = "bj_stand"
	cbDouble = "bj_double"
)

// Restrictions reports whether a member is currently muted or banned.
type Restrictions interface {
	IsRestricted(ctx context.Context, chatID, userID int64, now time.Time) (bool, error)
}

// errRestricted keeps muted and banned members away from the tables.
var errRestricted = errors.New("member is restricted")

// GameHandler implements the blackjack command and callback surface. It
// keeps one rendered table message per chat and edits it in place as the
// hand progresses.
type GameHandler struct {
	cfg          *config.Config
	engine       *blackjack.Engine
	users        *repository.UserRepository
	restrictions Restrictions
	messenger    Messenger
	metrics      *metrics.Metrics

	mu       sync.Mutex
	messages map[int64]*tele.Message
}

// NewGameHandler creates a new GameHandler.
func NewGameHandler(
	cfg *config.Config,
	engine *blackjack.Engine,
	users *repository.UserRepository,
	restrictions Restrictions,
	messenger Messenger,
	m *metrics.Metrics,
) *GameHandler {
	return &GameHandler{
		cfg:          cfg,
		engine:       engine,
		users:        users,
		restrictions: restrictions,
		messenger:    messenger,
		metrics:      m,
		messages:     make(map[int64]*tele.Message),
	}
}

// HandleOpen handles /21: opens the join window for a new table.
func (h *GameHandler) HandleOpen(c tele.Context) error {
	ctx := context.Background()
	chatID := c.Chat().ID

	snap, err := h.engine.Open(ctx, chatID)
	if err != nil {
		if errors.Is(err, blackjack.ErrAlreadyActive) {
			return c.Reply("Стол уже открыт, садись за него.")
		}
		return c.Reply("Не получилось открыть стол, попробуй ещё раз.")
	}

	ev, _ := event.FromContext(c)
	topicID := ev.TopicID
	if h.cfg.Bot.GamesTopicID != 0 {
		topicID = h.cfg.Bot.GamesTopicID
	}

	msg, err := h.messenger.SendToTopic(chatID, topicID, h.renderTable(snap))
	if err != nil {
		log.Error().Err(err).Msg("Failed to post game table")
		return nil
	}
	if _, err := h.messenger.EditWithKeyboard(msg, h.renderTable(snap), h.keyboard(snap)); err != nil {
		log.Warn().Err(err).Msg("Failed to attach game keyboard")
	}

	h.mu.Lock()
	h.messages[chatID] = msg
	h.mu.Unlock()
	return nil
}

// HandleCancel handles /cancel: aborts the chat's table and refunds wagers.
func (h *GameHandler) HandleCancel(c tele.Context) error {
	ctx := context.Background()
	chatID := c.Chat().ID

	if _, err := h.engine.Abort(ctx, chatID); err != nil {
		if errors.Is(err, blackjack.ErrNoTable) {
			return c.Reply("Сейчас нет открытого стола.")
		}
		return c.Reply("Стол уже разыгрывается, отменить нельзя.")
	}
	h.metrics.TablesResolved.Inc()

	h.updateTableMessage(chatID, "Стол отменён, ставки возвращены.", nil)
	return nil
}

// HandleScore handles /score: the caller's balance and game record.
func (h *GameHandler) HandleScore(c tele.Context) error {
	ctx := context.Background()

	user, err := h.users.GetOrCreate(ctx, c.Chat().ID, c.Sender().ID, c.Sender().Username)
	if err != nil {
		return c.Reply("Не получилось получить счёт, попробуй ещё раз.")
	}
	return c.Reply(fmt.Sprintf(
		"%s: %d монет, игр: %d, побед: %d.",
		mention(c.Sender()), user.Balance, user.GamesPlayed, user.Wins,
	))
}

// HandleTop handles /21top: the chat's coin and activity leaderboards.
func (h *GameHandler) HandleTop(c tele.Context) error {
	ctx := context.Background()

	text, err := h.buildLeaderboard(ctx, c.Chat().ID)
	if err != nil {
		return c.Reply("Не получилось построить таблицу лидеров.")
	}
	if text == "" {
		return c.Reply("Пока никто не сыграл ни одной раздачи.")
	}
	return c.Reply(text)
}

// HandleCallback routes the inline game buttons.
func (h *GameHandler) HandleCallback(c tele.Context) error {
	ctx := context.Background()
	ev, ok := event.FromContext(c)
	if !ok {
		return nil
	}

	action, arg := splitCallback(ev.CallbackData)
	var (
		snap blackjack.Snapshot
		err  error
	)
	switch action {
	case cbJoin:
		snap, err = h.join(ctx, c, ev.ChatID, arg)
	case cbDeal:
		snap, err = h.engine.Deal(ctx, ev.ChatID)
	case cbHit:
		snap, err = h.engine.Apply(ctx, ev.ChatID, ev.UserID, blackjack.ActionHit)
	case cbStand:
		snap, err = h.engine.Apply(ctx, ev.ChatID, ev.UserID, blackjack.ActionStand)
	case cbDouble:
		snap, err = h.engine.Apply(ctx, ev.ChatID, ev.UserID, blackjack.ActionDouble)
	default:
		return c.Respond(&tele.CallbackResponse{})
	}
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: h.actionError(err)})
	}

	if snap.State == blackjack.StateResolving {
		h.metrics.TablesResolved.Inc()
	}
	h.updateTableMessage(ev.ChatID, h.renderTable(snap), h.keyboard(snap))
	return c.Respond(&tele.CallbackResponse{})
}

func (h *GameHandler) join(ctx context.Context, c tele.Context, chatID int64, arg string) (blackjack.Snapshot, error) {
	wager, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return blackjack.Snapshot{}, blackjack.ErrInvalidWager
	}
	sender := c.Sender()
	restricted, err := h.restrictions.IsRestricted(ctx, chatID, sender.ID, time.Now())
	if err != nil {
		return blackjack.Snapshot{}, err
	}
	if restricted {
		return blackjack.Snapshot{}, errRestricted
	}
	if _, err := h.users.GetOrCreate(ctx, chatID, sender.ID, sender.Username); err != nil {
		return blackjack.Snapshot{}, err
	}
	name := sender.Username
	if name == "" {
		name = sender.FirstName
	}
	return h.engine.Join(ctx, chatID, sender.ID, name, wager)
}

// actionError maps engine sentinels onto short callback answers.
func (h *GameHandler) actionError(err error) string {
	switch {
	case errors.Is(err, blackjack.ErrNoTable):
		return "Стол уже закрыт."
	case errors.Is(err, blackjack.ErrJoinClosed):
		return "Набор за стол закрыт."
	case errors.Is(err, blackjack.ErrAlreadySeated):
		return "Ты уже за столом."
	case errors.Is(err, blackjack.ErrNotSeated):
		return "Ты не за этим столом."
	case errors.Is(err, blackjack.ErrNotYourTurn):
		return "Сейчас не твой ход."
	case errors.Is(err, blackjack.ErrDoubleUnavailable):
		return "Удвоить можно только первым действием."
	case errors.Is(err, blackjack.ErrInsufficientFunds):
		return "Не хватает монет."
	case errors.Is(err, blackjack.ErrInvalidWager):
		return fmt.Sprintf("Ставка от %d до %d монет.", h.cfg.Game.MinWager, h.cfg.Game.MaxWager)
	case errors.Is(err, errRestricted):
		return "С активным ограничением играть нельзя."
	default:
		return "Что-то пошло не так, попробуй ещё раз."
	}
}

// PublishTableUpdate renders a scheduler-driven table transition. Part of
// the scheduler's Publisher contract.
func (h *GameHandler) PublishTableUpdate(_ context.Context, snap blackjack.Snapshot) {
	if snap.State == blackjack.StateResolving {
		h.metrics.TablesResolved.Inc()
	}
	if snap.State == blackjack.StateIdle && len(snap.Seats) == 0 {
		h.updateTableMessage(snap.ChatID, "Никто не сел за стол, игра отменена.", nil)
		return
	}
	h.updateTableMessage(snap.ChatID, h.renderTable(snap), h.keyboard(snap))
}

// PublishLeaderboard posts the current leaderboards to the games topic.
func (h *GameHandler) PublishLeaderboard(ctx context.Context) {
	chatID := h.cfg.Bot.ForumChatID
	text, err := h.buildLeaderboard(ctx, chatID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build leaderboard")
		return
	}
	if text == "" {
		return
	}
	if _, err := h.messenger.SendToTopic(chatID, h.cfg.Bot.GamesTopicID, text); err != nil {
		log.Warn().Err(err).Msg("Failed to post leaderboard")
	}
}

// buildLeaderboard renders both rankings. Returns an empty string when the
// chat has no accounts yet.
func (h *GameHandler) buildLeaderboard(ctx context.Context, chatID int64) (string, error) {
	byCoins, err := h.users.GetTopUsers(ctx, chatID, 10)
	if err != nil {
		return "", err
	}
	byGames, err := h.users.GetTopUsersByGames(ctx, chatID, 10)
	if err != nil {
		return "", err
	}
	if len(byCoins) == 0 {
		return "", nil
	}
	return h.renderLeaderboard(byCoins, byGames), nil
}

func (h *GameHandler) updateTableMessage(chatID int64, text string, markup *tele.ReplyMarkup) {
	h.mu.Lock()
	msg := h.messages[chatID]
	h.mu.Unlock()
	if msg == nil {
		return
	}

	var err error
	if markup != nil {
		_, err = h.messenger.EditWithKeyboard(msg, text, markup)
	} else {
		_, err = h.messenger.EditMessage(msg, text)
	}
	if err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to update table message")
	}
}

// keyboard builds the inline buttons matching the table phase.
func (h *GameHandler) keyboard(snap blackjack.Snapshot) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	switch snap.State {
	case blackjack.StateJoining:
		var joins []tele.Btn
		for _, wager := range h.joinWagers() {
			joins = append(joins, markup.Data(fmt.Sprintf("Ставка %d", wager), cbJoin, strconv.FormatInt(wager, 10)))
		}
		markup.Inline(markup.Row(joins...), markup.Row(markup.Data("Раздать", cbDeal)))
	case blackjack.StatePlaying:
		markup.Inline(markup.Row(
			markup.Data("Ещё", cbHit),
			markup.Data("Хватит", cbStand),
			markup.Data("Удвоить", cbDouble),
		))
	default:
		return nil
	}
	return markup
}

// joinWagers picks a few preset wagers inside the configured range.
func (h *GameHandler) joinWagers() []int64 {
	min, max := h.cfg.Game.MinWager, h.cfg.Game.MaxWager
	presets := []int64{min, (min + max) / 2, max}
	var out []int64
	var last int64 = -1
	for _, w := range presets {
		if w != last {
			out = append(out, w)
		}
		last = w
	}
	return out
}

func (h *GameHandler) renderTable(snap blackjack.Snapshot) string {
	var b strings.Builder

	switch snap.State {
	case blackjack.StateJoining:
		b.WriteString("<b>Двадцать одно</b>\n")
		b.WriteString("Набор игроков открыт, жми кнопку со ставкой.\n")
		if len(snap.Seats) == 0 {
			b.WriteString("За столом пока никого.\n")
		}
		for _, s := range snap.Seats {
			fmt.Fprintf(&b, "• %s — ставка %d\n", s.Username, s.Wager)
		}
		fmt.Fprintf(&b, "Раздача в %s.", snap.DeadlineAt.Format("15:04:05"))

	case blackjack.StatePlaying:
		b.WriteString("<b>Двадцать одно</b>\n")
		if snap.HideDealer && len(snap.Dealer) > 0 {
			fmt.Fprintf(&b, "Дилер: %s ?\n", snap.Dealer[0])
		}
		for _, s := range snap.Seats {
			marker := ""
			if s.UserID == snap.TurnUserID {
				marker = " ← ход"
			}
			fmt.Fprintf(&b, "%s: %s (%d)%s%s\n", s.Username, blackjack.FormatHand(s.Hand), s.Value, seatNote(s.Status), marker)
		}
		fmt.Fprintf(&b, "Ход до %s.", snap.DeadlineAt.Format("15:04:05"))

	default:
		b.WriteString("<b>Итоги раздачи</b>\n")
		fmt.Fprintf(&b, "Дилер: %s (%d)\n", blackjack.FormatHand(snap.Dealer), snap.DealerValue)
		for _, o := range snap.Outcomes {
			fmt.Fprintf(&b, "%s: %s — %s\n", o.Username, outcomeNote(o.Result), payoutNote(o))
		}
	}
	return b.String()
}

func (h *GameHandler) renderLeaderboard(byCoins, byGames []*model.User) string {
	var b strings.Builder
	b.WriteString("<b>Таблица лидеров</b>\n")
	b.WriteString("По монетам:\n")
	for i, u := range byCoins {
		fmt.Fprintf(&b, "%d. %s — %d монет (побед: %d)\n", i+1, leaderName(u), u.Balance, u.Wins)
	}
	b.WriteString("По сыгранным играм:\n")
	for i, u := range byGames {
		fmt.Fprintf(&b, "%d. %s — игр: %d (побед: %d)\n", i+1, leaderName(u), u.GamesPlayed, u.Wins)
	}
	return b.String()
}

func leaderName(u *model.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strconv.FormatInt(u.UserID, 10)
}

func seatNote(status blackjack.SeatStatus) string {
	switch status {
	case blackjack.SeatStood:
		return ", хватит"
	case blackjack.SeatBusted:
		return ", перебор"
	case blackjack.SeatBlackjack:
		return ", блэкджек"
	default:
		return ""
	}
}

func outcomeNote(result blackjack.ResultKind) string {
	switch result {
	case blackjack.ResultBlackjack:
		return "блэкджек"
	case blackjack.ResultWin:
		return "победа"
	case blackjack.ResultPush:
		return "ничья"
	default:
		return "проигрыш"
	}
}

func payoutNote(o blackjack.Outcome) string {
	if o.Payout == 0 {
		return fmt.Sprintf("-%d монет", o.Wager)
	}
	delta := o.Payout - o.Wager
	if delta > 0 {
		return fmt.Sprintf("+%d монет", delta)
	}
	return "ставка возвращена"
}

func splitCallback(data string) (action, arg string) {
	if i := strings.IndexByte(data, '|'); i >= 0 {
		return data[:i], data[i+1:]
	}
	return data, ""
}
