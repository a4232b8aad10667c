package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	crmotel "github.com/0ndata/crmbridge/internal/adapter/otel"
	"github.com/0ndata/crmbridge/internal/bridge"
	"github.com/0ndata/crmbridge/internal/models"
	"github.com/0ndata/crmbridge/internal/orm"
	"github.com/0ndata/crmbridge/internal/port/events"
	"github.com/0ndata/crmbridge/internal/resilience"
)

// upgradeMap maps an unlock id to the config fields it changes. Unlocks
// absent from the map are recognition-only.
var upgradeMap = map[string]orm.Record{
	"first-sentence":      {"enabledFeatures": "predictions,sentences"},
	"double-down":         {"predictionInterval": 12},
	"hot-streak-5":        {"enabledCoins": "BTC,ETH,SOL,DOGE"},
	"century":             {"predictionInterval": 10},
	"eth-predictions":     {"activeModels": "gpt4,claude,gemini,deepseek"},
	"speed-demon":         {"predictionInterval": 5, "enabledCoins": "BTC,ETH,SOL,DOGE,ADA,AVAX"},
	"solana-predictions":  {"enabledFeatures": "predictions,sentences,analysis"},
	"ripple-predictions":  {"predictionInterval": 3, "enabledCoins": "BTC,ETH,SOL,DOGE,ADA,AVAX,LINK,DOT,MATIC,UNI"},
	"cardano-predictions": {"enabledFeatures": "predictions,sentences,analysis,social"},
	"legendary-status":    {"autonomousMode": "full"},
	"the-impossible":      {"predictionInterval": 1, "enabledFeatures": "predictions,sentences,analysis,social,trading"},
}

// Verification thresholds: a LOSS requires the price to move 3% against the
// entry in the predicted direction's opposite.
const lossDrawdown = 0.03

const pendingVerifyLimit = 50

// CycleReport summarizes one prediction cycle run.
type CycleReport struct {
	OK          bool        `json:"ok"`
	Predictions int         `json:"predictions"`
	Verified    CycleCounts `json:"verified"`
	Stats       CycleStats  `json:"stats"`
	NewUnlocks  []string    `json:"newUnlocks"`
	Log         []string    `json:"log"`
}

// CycleCounts tallies verification outcomes within one cycle.
type CycleCounts struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

// CycleStats is the aggregate state after the cycle's stats append.
type CycleStats struct {
	WinRate          int `json:"winRate"`
	TotalPredictions int `json:"totalPredictions"`
}

// CycleService runs the prediction workflow: generate predictions per
// enabled coin, verify pending ones against current prices, append stats,
// record earned unlocks (applying their config upgrades), and save the
// engine's latest sentence.
type CycleService struct {
	client        *bridge.Client
	predictionAPI string
	httpClient    *http.Client
	breaker       *resilience.Breaker
	publisher     events.Publisher
	log           *slog.Logger

	now func() time.Time
}

// NewCycleService creates a cycle service. publisher may be nil to disable
// event emission.
func NewCycleService(client *bridge.Client, predictionAPI string, httpClient *http.Client, publisher events.Publisher, log *slog.Logger) *CycleService {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &CycleService{
		client:        client,
		predictionAPI: strings.TrimRight(predictionAPI, "/"),
		httpClient:    httpClient,
		breaker:       resilience.NewBreaker(5, 30*time.Second),
		publisher:     publisher,
		log:           log,
		now:           time.Now,
	}
}

// engineDo routes a prediction engine call through the circuit breaker.
// Only transport failures trip the breaker; HTTP error statuses are the
// caller's concern.
func (s *CycleService) engineDo(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := s.breaker.Execute(func() error {
		var err error
		resp, err = s.httpClient.Do(req)
		return err
	})
	return resp, err
}

func (s *CycleService) push(report *CycleReport, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	report.Log = append(report.Log, "["+s.now().UTC().Format(time.RFC3339)+"] "+msg)
}

// Run executes one full cycle for a tenant. Per-coin and per-step failures
// degrade gracefully and are recorded in the report log; only a failure to
// read or write core prediction state aborts the run.
func (s *CycleService) Run(ctx context.Context, tenantID string) (*CycleReport, error) {
	ctx, span := crmotel.StartCycleSpan(ctx, tenantID)
	defer span.End()

	report := &CycleReport{NewUnlocks: []string{}, Log: []string{}}
	s.push(report, "Starting cycle")

	// 1. Read config, falling back to defaults when the tenant has none.
	configModel := models.Config(s.client, tenantID)
	configResult, err := configModel.FindAll(ctx, 1)
	if err != nil {
		return report, fmt.Errorf("read config: %w", err)
	}
	var configRecord orm.Record
	cfg := orm.Record{
		"enabledCoins":       "BTC,ETH,SOL",
		"activeModels":       "gpt4,claude,gemini",
		"predictionInterval": 15,
	}
	if len(configResult.Records) > 0 {
		configRecord = configResult.Records[0]
		cfg = configRecord
	}
	coins := splitList(recString(cfg, "enabledCoins", "BTC,ETH,SOL"))
	interval := int(recNumber(cfg, "predictionInterval"))
	if interval == 0 {
		interval = 15
	}
	s.push(report, "Config loaded: %d coins, interval=%dmin", len(coins), interval)

	// 2. Generate one prediction per enabled coin.
	predModel := models.Prediction(s.client, tenantID)
	created := make(map[string]bool)
	for _, coin := range coins {
		rec, err := s.predict(ctx, predModel, coin)
		if err != nil {
			s.push(report, "Prediction SKIP: %s: %v", coin, err)
			continue
		}
		if id, ok := rec["id"].(string); ok {
			created[id] = true
		}
		report.Predictions++
		s.push(report, "Prediction: %s %s @ %.0f%% conf", coin, recString(rec, "direction", "?"), recNumber(rec, "confidence"))
	}

	// 3. Verify pending predictions against current prices, skipping the
	// ones created moments ago.
	pending, err := predModel.Find().Eq("result", "PENDING").Limit(pendingVerifyLimit).Execute(ctx)
	if err != nil {
		return report, fmt.Errorf("list pending predictions: %w", err)
	}
	for _, rec := range pending.Records {
		id, _ := rec["id"].(string)
		if id == "" || created[id] {
			continue
		}
		result, err := s.verify(ctx, rec)
		if err != nil {
			s.push(report, "Verify SKIP: %s: %v", recString(rec, "coin", "?"), err)
			continue
		}
		if result == "" {
			continue
		}
		if _, err := predModel.Update(ctx, id, orm.Record{
			"result":     result,
			"verifiedAt": s.now().UTC().Format(time.RFC3339),
		}); err != nil {
			s.push(report, "Verify update failed: %s: %v", id, err)
			continue
		}
		if result == "WIN" {
			report.Verified.Wins++
		} else {
			report.Verified.Losses++
		}
		s.push(report, "Verified: %s -> %s", recString(rec, "coin", "?"), result)
	}

	// 4. Append a stats record accumulating onto the latest one.
	if err := s.appendStats(ctx, tenantID, report, interval); err != nil {
		return report, fmt.Errorf("append stats: %w", err)
	}
	s.push(report, "Stats: %d%% win rate, %d total, +%dW/%dL this cycle",
		report.Stats.WinRate, report.Stats.TotalPredictions, report.Verified.Wins, report.Verified.Losses)

	// 5. Record newly earned unlocks and apply their config upgrades.
	s.recordUnlocks(ctx, tenantID, report, configModel, configRecord)

	// 6. Save the engine's latest sentence.
	s.saveSentence(ctx, tenantID, report)

	s.push(report, "Cycle complete")
	report.OK = true
	s.publishReport(ctx, tenantID, report)
	return report, nil
}

// predict asks the prediction engine for one call and persists it as a
// PENDING record.
func (s *CycleService) predict(ctx context.Context, predModel *orm.Model, coin string) (orm.Record, error) {
	body, _ := json.Marshal(map[string]string{"coin": coin, "source": "0ndata-cron"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.predictionAPI+"/api/crypto/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.engineDo(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("prediction engine status %d", resp.StatusCode)
	}

	var data struct {
		Coin        string   `json:"coin"`
		Direction   string   `json:"direction"`
		Confidence  float64  `json:"confidence"`
		Models      []string `json:"models"`
		EntryPrice  float64  `json:"entryPrice"`
		TargetPrice float64  `json:"targetPrice"`
		CycleNumber float64  `json:"cycleNumber"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("parse prediction: %w", err)
	}
	if data.Coin == "" {
		data.Coin = coin
	}
	if data.Direction == "" {
		data.Direction = "UP"
	}

	return predModel.Create(ctx, orm.Record{
		"coin":        data.Coin,
		"direction":   data.Direction,
		"confidence":  data.Confidence,
		"modelsUsed":  strings.Join(data.Models, ","),
		"entryPrice":  data.EntryPrice,
		"targetPrice": data.TargetPrice,
		"result":      "PENDING",
		"verifiedAt":  "",
		"cycleNumber": data.CycleNumber,
	})
}

// verify resolves a pending prediction against the current price. Returns
// "WIN", "LOSS", or "" when the prediction stays pending.
//
// UP wins at or above target and loses below entry minus the drawdown;
// DOWN is the mirror image.
func (s *CycleService) verify(ctx context.Context, rec orm.Record) (string, error) {
	coin := recString(rec, "coin", "")
	if coin == "" {
		return "", fmt.Errorf("record has no coin")
	}

	price, err := s.currentPrice(ctx, coin)
	if err != nil {
		return "", err
	}
	if price == 0 {
		return "", fmt.Errorf("no price for %s", coin)
	}

	entry := recNumber(rec, "entryPrice")
	target := recNumber(rec, "targetPrice")
	dir := strings.ToUpper(recString(rec, "direction", ""))

	switch {
	case dir == "UP" && price >= target:
		return "WIN", nil
	case dir == "UP" && price < entry*(1-lossDrawdown):
		return "LOSS", nil
	case dir == "DOWN" && price <= target:
		return "WIN", nil
	case dir == "DOWN" && price > entry*(1+lossDrawdown):
		return "LOSS", nil
	}
	return "", nil
}

func (s *CycleService) currentPrice(ctx context.Context, coin string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.predictionAPI+"/api/crypto/price?coin="+url.QueryEscape(coin), nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.engineDo(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("price endpoint status %d", resp.StatusCode)
	}

	var data struct {
		Price float64 `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, fmt.Errorf("parse price: %w", err)
	}
	return data.Price, nil
}

// appendStats writes a new daily stats record carrying totals accumulated
// from the most recent one. Stats are append-only.
func (s *CycleService) appendStats(ctx context.Context, tenantID string, report *CycleReport, interval int) error {
	statsModel := models.PredictionStats(s.client, tenantID)
	latest, err := statsModel.Find().OrderBy("date", "desc").Limit(1).Execute(ctx)
	if err != nil {
		return err
	}

	var prev orm.Record
	if len(latest.Records) > 0 {
		prev = latest.Records[0]
	}

	totalWins := int(recNumber(prev, "wins")) + report.Verified.Wins
	totalLosses := int(recNumber(prev, "losses")) + report.Verified.Losses
	totalPredictions := int(recNumber(prev, "totalPredictions")) + report.Predictions

	winRate := 0
	if totalWins+totalLosses > 0 {
		winRate = int(math.Round(float64(totalWins) / float64(totalWins+totalLosses) * 100))
	}

	streak := 0
	if report.Verified.Wins > 0 {
		streak = int(recNumber(prev, "streak")) + report.Verified.Wins
	}

	_, err = statsModel.Create(ctx, orm.Record{
		"date":             s.now().UTC().Format("2006-01-02"),
		"winRate":          winRate,
		"totalPredictions": totalPredictions,
		"wins":             totalWins,
		"losses":           totalLosses,
		"streak":           streak,
		"intervalMinutes":  interval,
	})
	if err != nil {
		return err
	}

	report.Stats = CycleStats{WinRate: winRate, TotalPredictions: totalPredictions}
	return nil
}

// recordUnlocks compares the engine's unlock catalog with earned records,
// persists new ones, and applies mapped config upgrades. All failures here
// are non-fatal.
func (s *CycleService) recordUnlocks(ctx context.Context, tenantID string, report *CycleReport, configModel *orm.Model, configRecord orm.Record) {
	unlockModel := models.Unlock(s.client, tenantID)
	earned, err := unlockModel.FindAll(ctx, 100)
	if err != nil {
		s.push(report, "Could not list earned unlocks: %v", err)
		return
	}
	earnedIDs := make(map[string]bool, len(earned.Records))
	for _, rec := range earned.Records {
		if id := recString(rec, "unlockId", ""); id != "" {
			earnedIDs[id] = true
		}
	}

	catalog, err := s.fetchUnlockCatalog(ctx)
	if err != nil {
		s.push(report, "Could not check unlocks: %v", err)
		return
	}

	for _, entry := range catalog {
		if !entry.Unlocked || earnedIDs[entry.ID] {
			continue
		}
		if _, err := unlockModel.Create(ctx, orm.Record{
			"unlockId":         entry.ID,
			"unlockedAt":       s.now().UTC().Format(time.RFC3339),
			"triggeredBy":      "cron-cycle",
			"notificationSent": false,
		}); err != nil {
			s.push(report, "Unlock save failed: %s: %v", entry.ID, err)
			continue
		}
		report.NewUnlocks = append(report.NewUnlocks, entry.ID)
		name := entry.Name
		if name == "" {
			name = entry.ID
		}
		s.push(report, "UNLOCK: %s", name)
		s.publishUnlock(ctx, tenantID, entry.ID)

		upgrade, ok := upgradeMap[entry.ID]
		if !ok || configRecord == nil {
			continue
		}
		configID, _ := configRecord["id"].(string)
		if configID == "" {
			continue
		}
		if _, err := configModel.Update(ctx, configID, upgrade); err != nil {
			s.push(report, "Config upgrade failed: %s: %v", entry.ID, err)
			continue
		}
		keys := make([]string, 0, len(upgrade))
		for k := range upgrade {
			keys = append(keys, k)
		}
		s.push(report, "CONFIG UPGRADE: %s", strings.Join(keys, ", "))
	}
}

type unlockEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Unlocked bool   `json:"unlocked"`
}

func (s *CycleService) fetchUnlockCatalog(ctx context.Context) ([]unlockEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.predictionAPI+"/api/jax/unlocks", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.engineDo(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unlocks endpoint status %d", resp.StatusCode)
	}

	var data struct {
		Catalog []unlockEntry `json:"catalog"`
		Unlocks []unlockEntry `json:"unlocks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("parse unlocks: %w", err)
	}
	if len(data.Catalog) > 0 {
		return data.Catalog, nil
	}
	return data.Unlocks, nil
}

// saveSentence persists the engine's most recent sentence, if any.
func (s *CycleService) saveSentence(ctx context.Context, tenantID string, report *CycleReport) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.predictionAPI+"/api/jax/sentences?limit=1", nil)
	if err != nil {
		s.push(report, "Could not fetch sentences: %v", err)
		return
	}
	resp, err := s.engineDo(req)
	if err != nil {
		s.push(report, "Could not fetch sentences: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.push(report, "Could not fetch sentences: status %d", resp.StatusCode)
		return
	}

	var data struct {
		Sentences []struct {
			Text        string  `json:"text"`
			CycleNumber float64 `json:"cycleNumber"`
			ModelsUsed  string  `json:"modelsUsed"`
			Emotion     string  `json:"emotion"`
		} `json:"sentences"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil || len(data.Sentences) == 0 {
		return
	}

	sent := data.Sentences[0]
	sentModel := models.Sentence(s.client, tenantID)
	if _, err := sentModel.Create(ctx, orm.Record{
		"text":        sent.Text,
		"cycleNumber": sent.CycleNumber,
		"modelsUsed":  sent.ModelsUsed,
		"emotion":     sent.Emotion,
		"context":     "cron-cycle",
	}); err != nil {
		s.push(report, "Sentence save failed: %v", err)
		return
	}
	snippet := sent.Text
	if len(snippet) > 50 {
		snippet = snippet[:50] + "..."
	}
	s.push(report, "Sentence saved: %q", snippet)
}

func (s *CycleService) publishUnlock(ctx context.Context, tenantID, unlockID string) {
	if s.publisher == nil {
		return
	}
	data, _ := json.Marshal(map[string]string{"tenantId": tenantID, "unlockId": unlockID})
	if err := s.publisher.Publish(ctx, events.SubjectUnlockEarned, data); err != nil {
		s.log.Warn("unlock event publish failed", "unlockId", unlockID, "error", err)
	}
}

func (s *CycleService) publishReport(ctx context.Context, tenantID string, report *CycleReport) {
	if s.publisher == nil {
		return
	}
	data, _ := json.Marshal(map[string]any{
		"tenantId":    tenantID,
		"predictions": report.Predictions,
		"wins":        report.Verified.Wins,
		"losses":      report.Verified.Losses,
		"winRate":     report.Stats.WinRate,
		"newUnlocks":  report.NewUnlocks,
	})
	if err := s.publisher.Publish(ctx, events.SubjectCycleCompleted, data); err != nil {
		s.log.Warn("cycle event publish failed", "tenant", tenantID, "error", err)
	}
}

// --- record field helpers ---

func recString(rec orm.Record, key, fallback string) string {
	if rec == nil {
		return fallback
	}
	if v, ok := rec[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// recNumber reads a numeric field that may arrive as JSON number, int, or
// numeric string.
func recNumber(rec orm.Record, key string) float64 {
	if rec == nil {
		return 0
	}
	switch v := rec[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
