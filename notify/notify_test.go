package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"trading-alerts/api/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var fastRetry = RetryPolicy{Tries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

type recordingEmail struct {
	mu       sync.Mutex
	sent     []Email
	failures map[string]int
}

func (r *recordingEmail) Send(ctx context.Context, e Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures[e.To] > 0 {
		r.failures[e.To]--
		return errors.New("smtp 421")
	}
	r.sent = append(r.sent, e)
	return nil
}

func (r *recordingEmail) recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, e := range r.sent {
		out = append(out, e.To)
	}
	return out
}

type recordingTelegram struct {
	mu   sync.Mutex
	msgs map[int64][]string
}

func (r *recordingTelegram) SendMessage(ctx context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msgs == nil {
		r.msgs = map[int64][]string{}
	}
	r.msgs[chatID] = append(r.msgs[chatID], text)
	return nil
}

func emails(n int) []Email {
	out := make([]Email, n)
	for i := range out {
		out[i] = Email{To: string(rune('a'+i)) + "@example.com", Subject: "s"}
	}
	return out
}

func TestBatchSender_SendsEverything(t *testing.T) {
	rec := &recordingEmail{}
	b := NewBatchSender(rec, 2, 0, fastRetry)

	res, err := b.SendAll(context.Background(), emails(5))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Sent)
	assert.Equal(t, 0, res.Failed)
	assert.Len(t, rec.recipients(), 5)
}

func TestBatchSender_RetriesAndCountsFailures(t *testing.T) {
	rec := &recordingEmail{failures: map[string]int{"a@example.com": 1, "b@example.com": 10}}
	b := NewBatchSender(rec, 10, 0, fastRetry)

	res, err := b.SendAll(context.Background(), emails(3))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent, "a succeeds on retry")
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.ElementsMatch(t, []string{"a@example.com", "c@example.com"}, rec.recipients())
}

func TestBatchSender_SpacesBatches(t *testing.T) {
	rec := &recordingEmail{}
	b := NewBatchSender(rec, 1, 20*time.Millisecond, fastRetry)

	start := time.Now()
	res, err := b.SendAll(context.Background(), emails(3))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sent)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestBatchSender_StopsOnCancel(t *testing.T) {
	rec := &recordingEmail{}
	b := NewBatchSender(rec, 1, time.Hour, fastRetry)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := b.SendAll(ctx, emails(3))
	assert.Error(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestDispatcher_DeliversAndDrains(t *testing.T) {
	rec := &recordingEmail{}
	tg := &recordingTelegram{}
	d := NewDispatcher(rec, tg, fastRetry, 10)
	d.Start()

	n := NewNotifier(d, Templates{FrontendURL: "https://app.example.com"}, map[models.Service]int64{
		models.ServiceTraderCall: -1001,
	})

	a, err := models.NewAlert("AAPL", models.ActionBuy, models.ServiceTraderCall, 100, 90, 120, "Ruptura <fuerte>", "", time.Now())
	require.NoError(t, err)

	assert.True(t, n.BroadcastAlert(a, models.AlertEventCreated))
	a.Service = models.ServiceSmartMoney
	assert.False(t, n.BroadcastAlert(a, models.AlertEventCreated), "no channel configured")
	assert.True(t, n.email(Email{To: "x@example.com", Subject: "hi"}))
	assert.False(t, n.email(Email{}))

	d.Stop()

	assert.Equal(t, []string{"x@example.com"}, rec.recipients())
	require.Len(t, tg.msgs[-1001], 1)
	assert.Contains(t, tg.msgs[-1001][0], "<b>Nueva alerta BUY AAPL</b>")
	assert.Contains(t, tg.msgs[-1001][0], "Ruptura &lt;fuerte&gt;")

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Processed)
	assert.False(t, d.Submit(Delivery{Channel: ChannelEmail}), "stopped dispatcher rejects work")
	assert.Equal(t, uint64(1), d.Stats().Dropped)
}

func TestNotifier_DirectMessageRespectsPreferences(t *testing.T) {
	d := NewDispatcher(&recordingEmail{}, &recordingTelegram{}, fastRetry, 1)
	n := NewNotifier(d, Templates{}, nil)

	u := &models.User{TelegramChatID: 42}
	assert.False(t, n.DirectMessage(u, "hi"))
	u.Preferences.Telegram = true
	assert.True(t, n.DirectMessage(u, "hi"))
	assert.False(t, n.DirectMessage(u, "queue of one is full"))
}

func TestTemplates_NotificationEmail(t *testing.T) {
	tpl := Templates{FrontendURL: "https://app.example.com"}
	n := &models.Notification{
		Title:     "Alerta AAPL cerrada",
		Message:   "Salida: $120.00\nResultado: +20.00%",
		Service:   models.ServiceTraderCall,
		ActionURL: "/alertas/trader-call",
	}
	u := &models.User{Email: "maria@example.com"}

	e, err := tpl.NotificationEmail(n, u)
	require.NoError(t, err)
	assert.Equal(t, "maria@example.com", e.To)
	assert.Equal(t, "[TraderCall] Alerta AAPL cerrada", e.Subject)
	assert.Contains(t, e.HTML, "Hola maria,")
	assert.Contains(t, e.HTML, "https://app.example.com/alertas/trader-call")
	assert.Contains(t, e.HTML, "Resultado: &#43;20.00%")
}

func TestAlertMessage_PartialSale(t *testing.T) {
	a, err := models.NewAlert("MSFT", models.ActionBuy, models.ServiceSmartMoney, 100, 90, 130, "", "", time.Now())
	require.NoError(t, err)
	_, err = a.ApplyPartialSale(30, 110, "", time.Now())
	require.NoError(t, err)

	title, lines := AlertMessage(a, models.AlertEventPartialSale)
	assert.Equal(t, "Venta parcial en MSFT", title)
	assert.True(t, strings.Contains(strings.Join(lines, "\n"), "Posición restante: 70.00%"))
}

func TestNotifier_ConfirmEnrollmentUsesEmailLane(t *testing.T) {
	rec := &recordingEmail{}
	d := NewDispatcher(rec, &recordingTelegram{}, fastRetry, 4)
	d.Start()
	n := NewNotifier(d, Templates{FrontendURL: "https://app.example.com"}, nil)

	tr := &models.MonthlyTraining{
		ID:    bson.NewObjectID(),
		Title: "Marzo",
		Classes: []models.TrainingClass{
			{Date: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), StartTime: "19:00", Title: "Clase 1", MeetingLink: "https://meet.example.com/a"},
		},
	}
	muted := &models.User{Email: "muted@example.com"}
	assert.False(t, n.ConfirmEnrollment(muted, tr))

	u := &models.User{Email: "ana@example.com", Preferences: models.NotificationPreferences{Email: true}}
	assert.True(t, n.ConfirmEnrollment(u, tr))
	d.Stop()

	require.Equal(t, []string{"ana@example.com"}, rec.recipients())
	e := rec.sent[0]
	assert.Equal(t, "Inscripción confirmada: Marzo", e.Subject)
	assert.Contains(t, e.HTML, "05/03/2026 19:00: Clase 1")
	assert.Contains(t, e.HTML, "https://app.example.com/entrenamientos/"+tr.ID.Hex())
}
