package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"signal-trader/models"
)

// AIScorer calls the external signal-scoring service. Requests are rate
// limited and retried with exponential backoff on transient failures;
// the caller bounds the total time through the context, and on error the
// signal simply stays unscored.
type AIScorer struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

type scoreRequest struct {
	Asset       string   `json:"asset"`
	Action      string   `json:"action"`
	Entry       string   `json:"entry"`
	StopLoss    string   `json:"stop_loss"`
	TakeProfits []string `json:"take_profits"`
	Leverage    int      `json:"leverage"`
	Confidence  float64  `json:"confidence"`
	RawText     string   `json:"raw_text,omitempty"`
}

type scoreResponse struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// NewAIScorer creates a scoring client for the given endpoint
func NewAIScorer(endpoint, apiKey string) *AIScorer {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &AIScorer{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		logger:  logger,
	}
}

// ScoreSignal submits a signal for scoring and returns the verdict
func (s *AIScorer) ScoreSignal(ctx context.Context, signal *models.Signal) (*models.Score, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	tps := make([]string, len(signal.TakeProfits))
	for i, tp := range signal.TakeProfits {
		tps[i] = tp.String()
	}
	payload, err := json.Marshal(scoreRequest{
		Asset:       signal.Asset,
		Action:      string(signal.Action),
		Entry:       signal.Entry.String(),
		StopLoss:    signal.StopLoss.String(),
		TakeProfits: tps,
		Leverage:    signal.Leverage,
		Confidence:  signal.Confidence,
		RawText:     signal.RawText,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score request: %w", err)
	}

	var result scoreResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			err := fmt.Errorf("scoring API status %d: %s", resp.StatusCode, string(body))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		return json.NewDecoder(resp.Body).Decode(&result)
	}

	strategy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(operation, strategy); err != nil {
		return nil, fmt.Errorf("scoring request failed: %w", err)
	}

	if result.Score < 0 || result.Score > 100 {
		return nil, fmt.Errorf("scoring API returned out-of-range score %.2f", result.Score)
	}

	s.logger.WithFields(logrus.Fields{
		"asset": signal.Asset,
		"score": result.Score,
	}).Debug("Signal scored")

	return &models.Score{Value: result.Score, Reasoning: result.Reasoning}, nil
}
