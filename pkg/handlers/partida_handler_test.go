package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/backsoul/partidas/pkg/models"
	"github.com/backsoul/partidas/pkg/redis"
	"github.com/backsoul/partidas/pkg/services"
	websocketHub "github.com/backsoul/partidas/pkg/websocket"
	"github.com/valyala/fasthttp"
)

type recordedEvent struct {
	code    string
	msgType string
	data    interface{}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *fakeBroadcaster) BroadcastToPartida(code, msgType string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{code: code, msgType: msgType, data: data})
}

func (b *fakeBroadcaster) last(msgType string) (recordedEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].msgType == msgType {
			return b.events[i], true
		}
	}
	return recordedEvent{}, false
}

func (b *fakeBroadcaster) count(msgType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.msgType == msgType {
			n++
		}
	}
	return n
}

func (b *fakeBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.msgType
	}
	return out
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// correctas del fichero de prueba: 1-3 => A, 4-6 => B
var fixtureCorrect = map[int]string{1: "A", 2: "A", 3: "A", 4: "B", 5: "B", 6: "B"}

type testServer struct {
	mr        *miniredis.Miniredis
	client    *redis.RedisClient
	catalog   *services.QuestionService
	partidas  *services.PartidaService
	handler   *PartidaHandler
	questions *QuestionHandler
	hub       *fakeBroadcaster
	now       time.Time
	path      string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewRedisClient(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	var questions []models.Question
	for id := 1; id <= 6; id++ {
		questions = append(questions, models.Question{
			ID:      id,
			Text:    fmt.Sprintf("Pregunta %d", id),
			Options: map[string]string{"A": "a", "B": "b", "C": "c", "D": "d"},
			Correct: fixtureCorrect[id],
			Active:  true,
		})
	}
	data := models.QuestionsData{Questions: questions}
	data.Metadata.Total = len(questions)
	data.Metadata.Version = "2026.test"
	raw, _ := json.Marshal(data)
	path := filepath.Join(t.TempDir(), "preguntas.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	catalog := services.NewQuestionService(client, "")
	if _, err := catalog.LoadQuestionsFromFile(context.Background(), path); err != nil {
		t.Fatalf("LoadQuestionsFromFile: %v", err)
	}

	ts := &testServer{
		mr:      mr,
		client:  client,
		catalog: catalog,
		hub:     &fakeBroadcaster{},
		now:     time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		path:    path,
	}
	ts.partidas = services.NewPartidaService(client, catalog)
	ts.partidas.SetClock(func() time.Time { return ts.now })
	ts.partidas.SetLockTiming(time.Second, 200*time.Millisecond)
	ts.handler = NewPartidaHandler(ts.partidas, ts.hub)
	ts.questions = NewQuestionHandler(catalog, client, path, "redis")
	return ts
}

func call(t *testing.T, handle func(*fasthttp.RequestCtx), method, uri, code string, body interface{}) (int, envelope) {
	t.Helper()
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		ctx.Request.SetBody(raw)
	}
	if code != "" {
		ctx.SetUserValue("code", code)
	}

	handle(&ctx)

	var env envelope
	if err := json.Unmarshal(ctx.Response.Body(), &env); err != nil {
		t.Fatalf("%s %s: invalid body %q: %v", method, uri, ctx.Response.Body(), err)
	}
	return ctx.Response.StatusCode(), env
}

func decode(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode %s: %v", env.Data, err)
	}
}

func (ts *testServer) create(t *testing.T, count, limit int) string {
	t.Helper()
	status, env := call(t, ts.handler.CreatePartida, "POST", "/api/partidas", "", models.CreatePartidaRequest{
		QuestionCount:    count,
		TimeLimitMinutes: limit,
	})
	if status != fasthttp.StatusOK || !env.Success {
		t.Fatalf("create = %d %+v", status, env)
	}
	var data struct {
		Code string `json:"code"`
	}
	decode(t, env, &data)
	return data.Code
}

func (ts *testServer) join(t *testing.T, code, name string) string {
	t.Helper()
	status, env := call(t, ts.handler.Join, "POST", "/api/partidas/"+code+"/join", code, models.ParticipantRequest{DisplayName: name})
	if status != fasthttp.StatusOK {
		t.Fatalf("join = %d %+v", status, env)
	}
	var data struct {
		ParticipantID string `json:"participantId"`
	}
	decode(t, env, &data)
	return data.ParticipantID
}

func TestPartidaLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	code := ts.create(t, 5, 10)
	ana := ts.join(t, code, "Ana")

	if status, env := call(t, ts.handler.Start, "POST", "/start", code, models.ParticipantRequest{ParticipantID: ana}); status != fasthttp.StatusOK {
		t.Fatalf("start = %d %+v", status, env)
	}

	status, env := call(t, ts.handler.GetQuestions, "GET", "/questions", code, nil)
	if status != fasthttp.StatusOK {
		t.Fatalf("questions = %d %+v", status, env)
	}
	var qs struct {
		Questions []models.PublicQuestion `json:"questions"`
		Count     int                     `json:"count"`
	}
	decode(t, env, &qs)
	if qs.Count != 5 {
		t.Fatalf("count = %d, want 5", qs.Count)
	}

	// 4 correctas (en minúsculas y con espacios) y una en blanco
	for i, q := range qs.Questions {
		var answer *string
		if i < 4 {
			a := " " + strings.ToLower(fixtureCorrect[q.ID]) + " "
			answer = &a
		}
		req := models.ParticipantRequest{ParticipantID: ana, QuestionID: q.ID, Answer: answer}
		if status, env := call(t, ts.handler.SubmitAnswer, "POST", "/answer", code, req); status != fasthttp.StatusOK {
			t.Fatalf("answer %d = %d %+v", q.ID, status, env)
		}
	}

	ts.now = ts.now.Add(90 * time.Second)
	status, env = call(t, ts.handler.Finish, "POST", "/finish", code, models.ParticipantRequest{ParticipantID: ana})
	if status != fasthttp.StatusOK {
		t.Fatalf("finish = %d %+v", status, env)
	}
	var outcome models.FinalizeOutcome
	decode(t, env, &outcome)
	if outcome.Results.CorrectCount != 4 || outcome.Results.BlankCount != 1 || outcome.PartidaFinished {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Results.Score == nil || *outcome.Results.Score != 8 {
		t.Fatalf("score = %v, want 8", outcome.Results.Score)
	}
	if outcome.Results.ElapsedSeconds == nil || *outcome.Results.ElapsedSeconds != 90 {
		t.Fatalf("elapsed = %v, want 90", outcome.Results.ElapsedSeconds)
	}

	status, env = call(t, ts.handler.Review, "GET", "/review?participantId="+ana, code, nil)
	if status != fasthttp.StatusOK {
		t.Fatalf("review = %d %+v", status, env)
	}
	var review struct {
		Questions []models.ReviewItem `json:"questions"`
	}
	decode(t, env, &review)
	if len(review.Questions) != 5 || !review.Questions[0].IsCorrect || review.Questions[4].IsAnswered {
		t.Fatalf("review = %+v", review.Questions)
	}

	status, env = call(t, ts.handler.Ranking, "GET", "/ranking", code, nil)
	if status != fasthttp.StatusOK {
		t.Fatalf("ranking = %d %+v", status, env)
	}
	var ranking struct {
		Ranking []models.RankingEntry `json:"ranking"`
	}
	decode(t, env, &ranking)
	if len(ranking.Ranking) != 1 || ranking.Ranking[0].DisplayName != "Ana" || ranking.Ranking[0].Position != 1 {
		t.Fatalf("ranking = %+v", ranking.Ranking)
	}

	got := ts.hub.types()
	want := []string{"participantJoined", "participantStarted", "participantFinished"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestStatusClosesExpiredPartidaAndBroadcasts(t *testing.T) {
	ts := newTestServer(t)
	code := ts.create(t, 5, 1)
	ana := ts.join(t, code, "Ana")
	call(t, ts.handler.Start, "POST", "/start", code, models.ParticipantRequest{ParticipantID: ana})

	ts.now = ts.now.Add(61 * time.Second)
	status, env := call(t, ts.handler.GetStatus, "GET", "/api/partidas/"+code, code, nil)
	if status != fasthttp.StatusOK {
		t.Fatalf("status = %d %+v", status, env)
	}
	var summary models.PartidaStatusSummary
	decode(t, env, &summary)
	if summary.Status != models.PartidaFinished {
		t.Fatalf("Status = %q, want finished", summary.Status)
	}
	if len(summary.Participants) != 1 || summary.Participants[0].ID != ana || summary.Participants[0].State != models.ParticipantFinished {
		t.Fatalf("participants = %+v", summary.Participants)
	}

	types := ts.hub.types()
	if types[len(types)-1] != "partidaFinished" {
		t.Fatalf("events = %v, want partidaFinished last", types)
	}

	// tras cerrar, ni unirse ni responder
	status, _ = call(t, ts.handler.Join, "POST", "/join", code, models.ParticipantRequest{DisplayName: "Luis"})
	if status != fasthttp.StatusConflict {
		t.Fatalf("join after finish = %d, want 409", status)
	}
	status, _ = call(t, ts.handler.SubmitAnswer, "POST", "/answer", code, models.ParticipantRequest{ParticipantID: ana, QuestionID: 1})
	if status != fasthttp.StatusConflict {
		t.Fatalf("answer after finish = %d, want 409", status)
	}
}

func TestJoinBroadcastsStoredName(t *testing.T) {
	ts := newTestServer(t)
	code := ts.create(t, 5, 5)
	id := ts.join(t, code, "  "+strings.Repeat("x", 200))

	event, ok := ts.hub.last("participantJoined")
	if !ok {
		t.Fatalf("no participantJoined event, got %v", ts.hub.types())
	}
	name := event.data.(map[string]string)["displayName"]
	if utf8.RuneCountInString(name) != 50 {
		t.Fatalf("broadcast displayName has %d runes, want 50", utf8.RuneCountInString(name))
	}

	_, env := call(t, ts.handler.GetStatus, "GET", "/api/partidas/"+code, code, nil)
	var summary models.PartidaStatusSummary
	decode(t, env, &summary)
	if len(summary.Participants) != 1 || summary.Participants[0].ID != id || summary.Participants[0].DisplayName != name {
		t.Fatalf("status participants = %+v, want %q", summary.Participants, name)
	}
}

func TestWebSocketConnectClosesExpiredPartidaAndBroadcasts(t *testing.T) {
	ts := newTestServer(t)
	ws := NewWebSocketHandler(ts.handler, websocketHub.NewHub())
	code := ts.create(t, 5, 2)
	ana := ts.join(t, code, "Ana")
	call(t, ts.handler.Start, "POST", "/start", code, models.ParticipantRequest{ParticipantID: ana})

	ts.now = ts.now.Add(3 * time.Minute)

	// Sin cabeceras de WebSocket la actualización falla, pero el estado ya se
	// ha consultado y la partida se ha cerrado.
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod("GET")
	ctx.Request.SetRequestURI("/ws/partidas/" + code)
	ctx.SetUserValue("code", code)
	ws.HandleWebSocket(&ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("plain request to websocket = %d, want 400", ctx.Response.StatusCode())
	}

	if n := ts.hub.count("partidaFinished"); n != 1 {
		t.Fatalf("partidaFinished events = %d (%v), want 1", n, ts.hub.types())
	}
	event, _ := ts.hub.last("partidaFinished")
	if _, ok := event.data.(map[string]interface{})["ranking"]; !ok {
		t.Fatalf("partidaFinished without ranking: %+v", event.data)
	}

	// Ya cerrada: ni el barrido ni otra consulta repiten el aviso.
	sweeper := services.NewDeadlineSweeper(ts.partidas, time.Minute)
	sweeper.SetOnFinished(ts.handler.NotifyFinished)
	sweeper.RunOnce(context.Background())
	call(t, ts.handler.GetStatus, "GET", "/api/partidas/"+code, code, nil)
	if n := ts.hub.count("partidaFinished"); n != 1 {
		t.Fatalf("partidaFinished events after sweep = %d, want 1", n)
	}
}

func TestAnswerAcceptsAnyQuestionID(t *testing.T) {
	ts := newTestServer(t)
	code := ts.create(t, 5, 5)
	ana := ts.join(t, code, "Ana")

	for _, qid := range []int{0, 9999} {
		status, env := call(t, ts.handler.SubmitAnswer, "POST", "/answer", code, models.ParticipantRequest{ParticipantID: ana, QuestionID: qid, Answer: new(string)})
		if status != fasthttp.StatusOK {
			t.Fatalf("answer to question %d = %d %+v, want 200", qid, status, env)
		}
	}

	call(t, ts.handler.Start, "POST", "/start", code, models.ParticipantRequest{ParticipantID: ana})
	status, env := call(t, ts.handler.Finish, "POST", "/finish", code, models.ParticipantRequest{ParticipantID: ana})
	if status != fasthttp.StatusOK {
		t.Fatalf("finish = %d %+v", status, env)
	}
	var outcome models.FinalizeOutcome
	decode(t, env, &outcome)
	if outcome.Results.CorrectCount != 0 || outcome.Results.BlankCount != 5 {
		t.Fatalf("answers outside the partida affected the score: %+v", outcome.Results)
	}
}

func TestHandlerErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	code := ts.create(t, 5, 5)

	cases := []struct {
		name   string
		handle func(*fasthttp.RequestCtx)
		code   string
		body   interface{}
		uri    string
		want   int
	}{
		{"count fuera de rango", ts.handler.CreatePartida, "", models.CreatePartidaRequest{QuestionCount: 3, TimeLimitMinutes: 5}, "/api/partidas", fasthttp.StatusBadRequest},
		{"dificultad sin preguntas", ts.handler.CreatePartida, "", models.CreatePartidaRequest{QuestionCount: 5, TimeLimitMinutes: 5, Difficulty: "imposible"}, "/api/partidas", fasthttp.StatusUnprocessableEntity},
		{"partida inexistente", ts.handler.GetStatus, "0000ffff", nil, "/api/partidas/0000ffff", fasthttp.StatusNotFound},
		{"código mal formado", ts.handler.Ranking, "XYZ", nil, "/ranking", fasthttp.StatusNotFound},
		{"nombre vacío", ts.handler.Join, code, models.ParticipantRequest{DisplayName: "   "}, "/join", fasthttp.StatusBadRequest},
		{"participante desconocido", ts.handler.Start, code, models.ParticipantRequest{ParticipantID: "nadie"}, "/start", fasthttp.StatusNotFound},
		{"review sin participante", ts.handler.Review, code, nil, "/review", fasthttp.StatusBadRequest},
	}
	for _, tc := range cases {
		status, env := call(t, tc.handle, "POST", tc.uri, tc.code, tc.body)
		if status != tc.want || env.Success || env.Error == "" {
			t.Fatalf("%s: status = %d (%+v), want %d", tc.name, status, env, tc.want)
		}
	}

	var ctx fasthttp.RequestCtx
	ctx.Request.SetBody([]byte("{no json"))
	ts.handler.CreatePartida(&ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("invalid JSON = %d, want 400", ctx.Response.StatusCode())
	}
}

func TestFinishedParticipantCannotAnswer(t *testing.T) {
	ts := newTestServer(t)
	code := ts.create(t, 5, 5)
	ana := ts.join(t, code, "Ana")
	call(t, ts.handler.Start, "POST", "/start", code, models.ParticipantRequest{ParticipantID: ana})
	call(t, ts.handler.Finish, "POST", "/finish", code, models.ParticipantRequest{ParticipantID: ana})

	status, _ := call(t, ts.handler.SubmitAnswer, "POST", "/answer", code, models.ParticipantRequest{ParticipantID: ana, QuestionID: 1})
	if status != fasthttp.StatusConflict {
		t.Fatalf("answer after own finish = %d, want 409", status)
	}
}

func TestCacheUnavailableIs503(t *testing.T) {
	ts := newTestServer(t)
	code := ts.create(t, 5, 5)
	ts.mr.Close()

	status, env := call(t, ts.handler.GetStatus, "GET", "/api/partidas/"+code, code, nil)
	if status != fasthttp.StatusServiceUnavailable {
		t.Fatalf("status with cache down = %d (%+v), want 503", status, env)
	}

	status, _ = call(t, ts.questions.HealthCheck, "GET", "/api/health", "", nil)
	if status != fasthttp.StatusServiceUnavailable {
		t.Fatalf("health with cache down = %d, want 503", status)
	}
}

func TestQuestionHandler(t *testing.T) {
	ts := newTestServer(t)

	status, env := call(t, ts.questions.HealthCheck, "GET", "/api/health", "", nil)
	if status != fasthttp.StatusOK || !env.Success {
		t.Fatalf("health = %d %+v", status, env)
	}

	status, env = call(t, ts.questions.GetQuestionCount, "GET", "/api/questions/count", "", nil)
	var count struct {
		Count int `json:"count"`
	}
	decode(t, env, &count)
	if status != fasthttp.StatusOK || count.Count != 6 {
		t.Fatalf("count = %d %+v", status, env)
	}

	status, env = call(t, ts.questions.GetQuestionMetadata, "GET", "/api/questions/metadata", "", nil)
	var meta struct {
		Metadata map[string]interface{} `json:"metadata"`
		Count    int                    `json:"count"`
	}
	decode(t, env, &meta)
	if status != fasthttp.StatusOK || meta.Count != 6 || meta.Metadata["version"] != "2026.test" {
		t.Fatalf("metadata = %d %+v", status, env)
	}

	status, env = call(t, ts.questions.ReloadQuestions, "POST", "/api/questions/reload", "", nil)
	decode(t, env, &count)
	if status != fasthttp.StatusOK || count.Count != 6 {
		t.Fatalf("reload = %d %+v", status, env)
	}

	broken := NewQuestionHandler(ts.catalog, ts.client, filepath.Join(t.TempDir(), "missing.json"), "redis")
	status, _ = call(t, broken.ReloadQuestions, "POST", "/api/questions/reload", "", nil)
	if status != fasthttp.StatusInternalServerError {
		t.Fatalf("reload of missing file = %d, want 500", status)
	}
}
