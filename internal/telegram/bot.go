package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/SmachnoBot/internal/models"
	"github.com/digkill/SmachnoBot/internal/service"
	"github.com/digkill/SmachnoBot/internal/wayforpay"
)

const (
	historyLimit     = 5
	maxCaptionLength = 1024

	// A charged generation runs to completion even after shutdown starts.
	generationTimeout = 5 * time.Minute

	callbackRegenerate = "regenerate_same"
	callbackBuy        = "buy"
	stylePrefix        = "style_"
)

type Users interface {
	Ensure(ctx context.Context, telegramID int64, username, firstName string) (*models.User, bool, error)
	Stats(ctx context.Context) (models.Stats, error)
}

type Entitlements interface {
	Snapshot(ctx context.Context, telegramID int64) (service.Snapshot, error)
}

type Checkouts interface {
	Checkout(ctx context.Context, telegramID int64) (*service.Checkout, error)
}

type Generator interface {
	Generate(ctx context.Context, req service.GenerationRequest) (*service.GenerationResult, error)
	History(ctx context.Context, telegramID int64, limit int) ([]models.Creative, error)
	LastOriginal(ctx context.Context, telegramID int64) (string, error)
}

type Bot struct {
	api          *tgbotapi.BotAPI
	log          *slog.Logger
	users        Users
	entitlements Entitlements
	payments     Checkouts
	generation   Generator
	state        *StateManager
	adminIDs     map[int64]struct{}
	wg           sync.WaitGroup
}

var styleButtons = []struct {
	style models.Style
	label string
}{
	{models.StyleBright, "🍓 Яскравий та соковитий"},
	{models.StylePremium, "🧁 Преміум-кондитерська"},
	{models.StyleCozy, "☕ Затишна кав'ярня"},
	{models.StyleWedding, "🎂 Весільна естетика"},
	{models.StyleCustom, "➕ Додати свої побажання"},
}

func NewBot(api *tgbotapi.BotAPI, log *slog.Logger, users Users, entitlements Entitlements, payments Checkouts, generation Generator, adminIDs []int64) *Bot {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Bot{
		api:          api,
		log:          log,
		users:        users,
		entitlements: entitlements,
		payments:     payments,
		generation:   generation,
		state:        NewStateManager(),
		adminIDs:     admins,
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return ctx.Err()
		}
	}
}

// Wait blocks until every generation started by the bot has finished.
func (b *Bot) Wait() { b.wg.Wait() }

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if len(msg.Photo) > 0 || msg.Document != nil {
		b.handlePhoto(ctx, msg)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	session := b.state.Get(msg.Chat.ID)
	switch session.State {
	case StateAwaitingWishes:
		wishes := strings.TrimSpace(msg.Text)
		if wishes == "" {
			b.sendText(msg.Chat.ID, "Напиши побажання текстом, будь ласка.")
			return
		}
		b.startGeneration(ctx, msg.Chat.ID, msg.From, session, wishes)
	case StateAwaitingStyle:
		b.sendStyleKeyboard(msg.Chat.ID, "Спочатку обери стиль для фото 👇")
	default:
		b.sendText(msg.Chat.ID, "Надішли фото десерту, щоб почати 📸")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "balance":
		b.handleBalance(ctx, msg)
	case "history":
		b.handleHistory(ctx, msg)
	case "buy":
		if _, err := b.ensureUser(ctx, msg.From, msg.Chat.ID); err != nil {
			b.log.Error("ensure user buy", "err", err)
			return
		}
		b.offerCheckout(ctx, msg.Chat.ID, telegramID(msg.From, msg.Chat.ID))
	case "stats":
		b.handleStats(ctx, msg)
	default:
		b.sendText(msg.Chat.ID, "Невідома команда. Надішли фото десерту або скористайся /start.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	user, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure user", "err", err)
		b.sendText(msg.Chat.ID, "❌ Сталася помилка. Спробуй ще раз пізніше.")
		return
	}
	b.state.Reset(msg.Chat.ID)

	snap, err := b.entitlements.Snapshot(ctx, user.TelegramID)
	if err != nil {
		b.log.Error("entitlement snapshot", "telegram_id", user.TelegramID, "err", err)
		return
	}
	name := user.FirstName
	if name == "" {
		name = "друже"
	}
	text := fmt.Sprintf(
		"Привіт, %s! 👋\n\nЯ допоможу перетворити фото твого десерту на апетитний креатив для Instagram.\n\n📸 Надішли фото десерту, обери стиль, і я підготую 2 варіанти зображення з підписом.\n🎁 Безкоштовних генерацій: %d з %d.\n\nКоманди:\n/balance — залишок генерацій\n/history — останні креативи\n/buy — купити генерацію",
		name, snap.FreeRemaining, snap.FreeQuota,
	)
	b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleBalance(ctx context.Context, msg *tgbotapi.Message) {
	user, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure user balance", "err", err)
		return
	}
	snap, err := b.entitlements.Snapshot(ctx, user.TelegramID)
	if err != nil {
		b.log.Error("entitlement snapshot", "telegram_id", user.TelegramID, "err", err)
		b.sendText(msg.Chat.ID, "❌ Не вдалося отримати баланс. Спробуй пізніше.")
		return
	}
	b.sendText(msg.Chat.ID, formatBalance(snap))
}

func formatBalance(snap service.Snapshot) string {
	return fmt.Sprintf("💰 Баланс\n\nБезкоштовні: %d з %d\nОплачені: %d\nВсього доступно: %d",
		snap.FreeRemaining, snap.FreeQuota, snap.PaidAvailable, snap.Total())
}

func (b *Bot) handleHistory(ctx context.Context, msg *tgbotapi.Message) {
	tid := telegramID(msg.From, msg.Chat.ID)
	creatives, err := b.generation.History(ctx, tid, historyLimit)
	if err != nil {
		b.log.Error("creative history", "telegram_id", tid, "err", err)
		b.sendText(msg.Chat.ID, "❌ Не вдалося отримати історію.")
		return
	}
	if len(creatives) == 0 {
		b.sendText(msg.Chat.ID, "📭 У тебе ще немає креативів. Надішли фото десерту!")
		return
	}
	var sb strings.Builder
	sb.WriteString("🕘 Останні креативи:\n")
	for i, c := range creatives {
		fmt.Fprintf(&sb, "\n%d. %s\n%s\n", i+1, c.CreatedAt.Format("02.01.2006 15:04"), c.GeneratedImageURL)
	}
	b.sendText(msg.Chat.ID, sb.String())
}

func (b *Bot) handleStats(ctx context.Context, msg *tgbotapi.Message) {
	if _, ok := b.adminIDs[telegramID(msg.From, msg.Chat.ID)]; !ok {
		b.sendText(msg.Chat.ID, "❌ У тебе немає доступу до цієї команди.")
		return
	}
	stats, err := b.users.Stats(ctx)
	if err != nil {
		b.log.Error("stats", "err", err)
		b.sendText(msg.Chat.ID, "❌ Помилка отримання статистики.")
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("📊 Статистика\n\nКористувачів: %d\nКреативів: %d\nУспішних оплат: %d\nДохід: %s",
		stats.TotalUsers, stats.TotalCreatives, stats.PaidPayments, wayforpay.FormatMajor(stats.TotalRevenue)))
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	var fileID string
	switch {
	case len(msg.Photo) > 0:
		fileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil:
		if mt := strings.ToLower(msg.Document.MimeType); !strings.HasPrefix(mt, "image/") {
			b.sendText(msg.Chat.ID, "Це не зображення. Надішли фото десерту.")
			return
		}
		fileID = msg.Document.FileID
	}

	if _, err := b.ensureUser(ctx, msg.From, msg.Chat.ID); err != nil {
		b.log.Error("ensure user photo", "err", err)
		return
	}
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		b.log.Error("resolve photo url", "err", err)
		b.sendText(msg.Chat.ID, "❌ Виникла помилка при обробці фото. Спробуй ще раз або звернись до підтримки.")
		return
	}
	b.state.StartWithPhoto(msg.Chat.ID, url)
	b.sendStyleKeyboard(msg.Chat.ID, "Обери стиль для покращеного фото 👇")
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		b.answerCallback(cb.ID, "")
		return
	}
	chatID := cb.Message.Chat.ID

	switch {
	case strings.HasPrefix(cb.Data, stylePrefix):
		style, ok := parseStyle(strings.TrimPrefix(cb.Data, stylePrefix))
		session := b.state.Get(chatID)
		if !ok || session.PhotoURL == "" {
			b.answerCallback(cb.ID, "Помилка: фото не знайдено. Надішли фото спочатку.")
			return
		}
		session.Style = style
		if style == models.StyleCustom {
			session.State = StateAwaitingWishes
			b.state.Set(chatID, session)
			b.answerCallback(cb.ID, "")
			b.sendText(chatID, "Напиши додаткові побажання до стилю: що підкреслити, змінити чи додати.")
			return
		}
		b.answerCallback(cb.ID, "⏳ Генерую фото... Це займе до хвилини ⏳")
		b.startGeneration(ctx, chatID, cb.From, session, "")
	case cb.Data == callbackRegenerate:
		b.handleRegenerate(ctx, cb)
	case cb.Data == callbackBuy:
		b.answerCallback(cb.ID, "")
		b.offerCheckout(ctx, chatID, telegramID(cb.From, chatID))
	default:
		b.answerCallback(cb.ID, "Невідомий вибір")
	}
}

func (b *Bot) handleRegenerate(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID
	tid := telegramID(cb.From, chatID)

	snap, err := b.entitlements.Snapshot(ctx, tid)
	if err == nil && snap.Total() == 0 {
		b.answerCallback(cb.ID, "")
		b.offerCheckout(ctx, chatID, tid)
		return
	}

	photoURL := b.state.Get(chatID).PhotoURL
	if photoURL == "" {
		photoURL, err = b.generation.LastOriginal(ctx, tid)
		if err != nil {
			b.log.Error("last original", "telegram_id", tid, "err", err)
		}
	}
	if photoURL == "" {
		b.answerCallback(cb.ID, "Помилка: фото не знайдено. Надішли фото спочатку.")
		return
	}
	b.state.StartWithPhoto(chatID, photoURL)
	b.answerCallback(cb.ID, "")
	b.sendStyleKeyboard(chatID, "Обери стиль для покращеного фото 👇")
}

// startGeneration runs the pipeline in the background so a slow image model
// does not stall the update loop for other chats.
func (b *Bot) startGeneration(ctx context.Context, chatID int64, from *tgbotapi.User, session Session, wishes string) {
	req := service.GenerationRequest{
		TelegramID: telegramID(from, chatID),
		PhotoURL:   session.PhotoURL,
		Style:      session.Style,
		Wishes:     wishes,
	}
	// The photo stays for "regenerate" until a new one arrives.
	b.state.Set(chatID, Session{State: StateIdle, PhotoURL: session.PhotoURL})
	b.sendText(chatID, "Чудово! Починаю генерувати 😋\n\nЦе займе близько 1 хвилини.")

	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), generationTimeout)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		b.generate(genCtx, chatID, req)
	}()
}

func (b *Bot) generate(ctx context.Context, chatID int64, req service.GenerationRequest) {
	result, err := b.generation.Generate(ctx, req)
	switch {
	case errors.Is(err, service.ErrNoCredits):
		b.offerCheckout(ctx, chatID, req.TelegramID)
		return
	case errors.Is(err, service.ErrGenerationInProgress):
		b.sendText(chatID, "⏳ Зараз генерую твоє фото, зачекай трохи... Це займе до хвилини ⏳")
		return
	case errors.Is(err, service.ErrNoImages):
		b.sendText(chatID, "❌ Не вдалося згенерувати зображення. Спробуй ще раз з іншим фото.")
		return
	case err != nil:
		b.log.Error("generate", "telegram_id", req.TelegramID, "err", err)
		b.sendText(chatID, "❌ Виникла помилка при генерації. Спробуй ще раз або звернись до підтримки.")
		return
	}

	b.deliverImages(chatID, result)

	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Ще варіант", callbackRegenerate)),
	}
	if result.Remaining.Total() == 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💳 Купити генерацію", callbackBuy)))
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("✨ Готово! Залишилось генерацій: %d", result.Remaining.Total()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send result keyboard", "err", err)
	}
}

func (b *Bot) deliverImages(chatID int64, result *service.GenerationResult) {
	caption := truncateRunes(result.Caption, maxCaptionLength)
	if len(result.Images) == 1 {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(result.Images[0]))
		photo.Caption = caption
		if _, err := b.api.Send(photo); err != nil {
			b.log.Error("send image", "err", err)
		}
		return
	}

	media := make([]interface{}, 0, len(result.Images))
	for i, url := range result.Images {
		photo := tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(url))
		if i == 0 {
			photo.Caption = caption
		}
		media = append(media, photo)
	}
	if _, err := b.api.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, media)); err != nil {
		b.log.Error("send media group", "err", err)
	}
}

func (b *Bot) offerCheckout(ctx context.Context, chatID, telegramID int64) {
	co, err := b.payments.Checkout(ctx, telegramID)
	if err != nil {
		b.log.Error("checkout", "telegram_id", telegramID, "err", err)
		b.sendText(chatID, "💰 Для створення креативу потрібна оплата.\n\n⚠️ Помилка створення платежу. Спробуй ще раз або звернись до підтримки.")
		return
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"💰 Для створення креативу потрібна оплата %s за 1 генерацію (2 варіанти зображень).\n\nНатисни кнопку нижче для оплати:",
		co.DisplayAmount,
	))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("💳 Оплатити "+co.DisplayAmount, co.URL)),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send checkout", "err", err)
	}
}

// NotifyPaymentCompleted tells the payer their credit arrived.
func (b *Bot) NotifyPaymentCompleted(_ context.Context, telegramID int64, paidAvailable int) error {
	text := fmt.Sprintf("✅ Оплату отримано! Доступно оплачених генерацій: %d.\n\nНадішли фото десерту, щоб створити креатив 📸", paidAvailable)
	_, err := b.api.Send(tgbotapi.NewMessage(telegramID, text))
	return err
}

// SendText delivers an admin broadcast message.
func (b *Bot) SendText(_ context.Context, chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (b *Bot) sendStyleKeyboard(chatID int64, text string) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(styleButtons))
	for _, s := range styleButtons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(s.label, stylePrefix+string(s.style))))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User, chatID int64) (*models.User, error) {
	var username, firstName string
	if from != nil {
		username = from.UserName
		firstName = from.FirstName
	}
	user, _, err := b.users.Ensure(ctx, telegramID(from, chatID), username, firstName)
	return user, err
}

func (b *Bot) sendText(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func telegramID(from *tgbotapi.User, chatID int64) int64 {
	if from != nil {
		return from.ID
	}
	return chatID
}

func parseStyle(raw string) (models.Style, bool) {
	for _, s := range styleButtons {
		if string(s.style) == raw {
			return s.style, true
		}
	}
	return "", false
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
