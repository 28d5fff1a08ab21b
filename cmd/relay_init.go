package main

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-relay/internal/config"
	"github.com/sells-group/lead-relay/internal/ingest"
	"github.com/sells-group/lead-relay/internal/normalize"
	"github.com/sells-group/lead-relay/internal/resilience"
	"github.com/sells-group/lead-relay/internal/sink"
	"github.com/sells-group/lead-relay/pkg/amocrm"
	"github.com/sells-group/lead-relay/pkg/google"
	"github.com/sells-group/lead-relay/pkg/telegram"
)

// relayEnv holds the clients and the ingestor needed by the serve and lead
// commands.
type relayEnv struct {
	CRM      amocrm.Client
	Telegram telegram.Client // nil without sinks
	Ingestor *ingest.Ingestor
}

// Close releases the CRM connection pool.
func (re *relayEnv) Close() {
	if re.CRM != nil {
		re.CRM.Close()
	}
}

// initRelay builds the CRM client, normalizer and ingestor. With withSinks
// false the ingestor has no sinks, which is enough for Resolve. Callers
// should defer env.Close().
func initRelay(ctx context.Context, withSinks bool) (*relayEnv, error) {
	normalizer, err := normalize.New(normalize.Config{
		AcceptedBranch: cfg.Normalize.AcceptedBranch,
		EmailLabel:     cfg.Normalize.EmailLabel,
		Labels:         cfg.Normalize.Labels,
	})
	if err != nil {
		return nil, err
	}

	env := &relayEnv{CRM: newCRMClient(cfg.CRM)}

	var sinks []sink.Sink
	if withSinks {
		env.Telegram = telegram.NewClient(cfg.Telegram.Token, telegram.WithBaseURL(cfg.Telegram.BaseURL))
		sinks, err = initSinks(ctx, cfg, env.Telegram)
		if err != nil {
			env.Close()
			return nil, err
		}
	}

	env.Ingestor = ingest.New(env.CRM, normalizer, sinks,
		ingest.WithRetry(resilience.FromRetryConfig(cfg.Ingest.Retry)),
		ingest.WithCircuitBreaker(ingest.NewCRMBreaker(resilience.FromCircuitConfig(cfg.Ingest.Circuit))),
	)
	return env, nil
}

func newCRMClient(c config.CRMConfig) amocrm.Client {
	opts := []amocrm.Option{
		amocrm.WithRateLimit(c.RateLimit),
		amocrm.WithTimeout(time.Duration(c.TimeoutSecs) * time.Second),
	}
	if c.LongLivedToken {
		opts = append(opts, amocrm.WithLongLivedToken())
	} else {
		opts = append(opts, amocrm.WithCredentials(amocrm.Credentials{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURI:  c.RedirectURI,
			RefreshToken: c.RefreshToken,
		}))
	}
	return amocrm.NewClient(c.BaseURL, c.AccessToken, opts...)
}

// initSinks builds the chat and spreadsheet sinks.
func initSinks(ctx context.Context, c *config.Config, tg telegram.Client) ([]sink.Sink, error) {
	loc, err := time.LoadLocation(c.Sheets.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "sheets: load timezone %q", c.Sheets.Timezone)
	}

	sheets, err := google.NewClient(ctx, c.Sheets.SpreadsheetID, c.Sheets.Worksheet,
		google.WithCredentialsFile(c.Sheets.CredentialsFile),
	)
	if err != nil {
		return nil, err
	}
	zap.L().Info("spreadsheet sink ready",
		zap.String("spreadsheet_id", c.Sheets.SpreadsheetID),
		zap.String("worksheet", c.Sheets.Worksheet),
	)

	chatID := strconv.FormatInt(c.Telegram.ChatID, 10)
	return []sink.Sink{
		sink.NewChat(tg, chatID),
		sink.NewSheet(sheets, loc),
	}, nil
}
