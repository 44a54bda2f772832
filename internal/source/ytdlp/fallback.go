package ytdlp

import (
	"context"
	"time"

	"go-media-download/internal/source"

	log "github.com/sirupsen/logrus"
)

// Refresher is the external session-refresh collaborator. RequestRefresh
// reports the failure and returns true when fresh credentials are in place
// and the attempt should be retried.
type Refresher interface {
	RequestRefresh(ctx context.Context, reason, url string) bool
}

// Engine drives the outer proxy chain and the inner tier escalation for one
// download. It is stateless across downloads; construct once and share.
type Engine struct {
	Bin       string
	Runner    Runner
	Chain     []Hop
	Refresher Refresher

	// RefreshWait bounds how long a credential refresh is awaited before it
	// is treated as refused. Defaults to 20s.
	RefreshWait time.Duration
	// RefreshSettle is the pause after a successful refresh before
	// retrying, giving the new session a moment to propagate.
	RefreshSettle time.Duration
	// Cleanup removes partial output between attempts so a stale file can
	// never be mistaken for the new attempt's output.
	Cleanup func(path string)
}

// Download runs the full fallback chain for one task. It returns nil on the
// first successful attempt, or the last classified error once every proxy
// is exhausted.
func (e *Engine) Download(ctx context.Context, spec ArgSpec, progress chan<- source.Progress) *RunError {
	chain := e.Chain
	if len(chain) == 0 {
		chain = []Hop{{Name: "direct"}}
	}
	tiers := Tiers()

	var lastErr *RunError
	for i, hop := range chain {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return &RunError{Kind: KindUnknown, Stderr: err.Error()}
		}

		log.Infof("Download attempt %d/%d via [%s]", i+1, len(chain), hop.Name)
		if i > 0 {
			e.cleanup(spec.OutputPath)
		}

		refreshUsed := false
		for {
			outcome, err := e.runTiers(ctx, tiers, spec, hop, progress, !refreshUsed)
			if outcome == outcomeSuccess {
				log.Infof("Download succeeded via [%s] (attempt %d/%d)", hop.Name, i+1, len(chain))
				return nil
			}
			lastErr = err
			if outcome == outcomeRefreshRestart {
				// Fresh credentials: restart this proxy's sequence from
				// Tier 1, at most once.
				refreshUsed = true
				e.cleanup(spec.OutputPath)
				continue
			}
			break
		}

		if i+1 < len(chain) {
			log.Warnf("All tiers failed via [%s], advancing proxy (%d/%d)", hop.Name, i+2, len(chain))
		}
	}

	log.Errorf("All %d proxies exhausted for %s", len(chain), spec.Url)
	if lastErr == nil {
		lastErr = &RunError{Kind: KindUnknown, Stderr: "all proxies failed"}
	}
	return lastErr
}

type tierOutcome int

const (
	outcomeSuccess tierOutcome = iota
	outcomeFailed
	outcomeRefreshRestart
)

// runTiers performs the per-proxy escalation: Tier 1, conditionally Tier 2,
// conditionally Tier 3.
func (e *Engine) runTiers(ctx context.Context, tiers []TierConfig, spec ArgSpec, hop Hop, progress chan<- source.Progress, allowRefresh bool) (tierOutcome, *RunError) {
	t1Err := e.Runner.Run(ctx, e.Bin, BuildArgs(tiers[0], spec, hop), progress)
	if t1Err == nil {
		return outcomeSuccess, nil
	}
	log.WithFields(log.Fields{
		"kind":  t1Err.Kind.String(),
		"proxy": hop.Name,
	}).Errorf("Tier 1 failed: %s", truncate(t1Err.Stderr, 500))

	// Purely network/proxy-related failures short-circuit straight to the
	// next proxy; escalating auth cannot fix a dead network path.
	networkOnly := t1Err.Kind == KindNetworkError ||
		(IsProxyRelated(t1Err.Stderr) && t1Err.Kind != KindBotDetection)
	if networkOnly {
		return outcomeFailed, t1Err
	}

	lastErr := t1Err
	switch t1Err.Kind {
	case KindInvalidCookies, KindBotDetection, KindNetworkError:
		log.Warnf("Tier 1 failed with %s, escalating to authenticated attempt", t1Err.Kind)
		e.cleanup(spec.OutputPath)

		t2Err := e.Runner.Run(ctx, e.Bin, BuildArgs(tiers[1], spec, hop), progress)
		if t2Err == nil {
			return outcomeSuccess, nil
		}
		lastErr = t2Err

		switch t2Err.Kind {
		case KindInvalidCookies:
			if allowRefresh && e.awaitRefresh(ctx, t2Err.Kind.String(), spec.Url) {
				log.Info("Credential refresh succeeded, restarting tier sequence")
				if e.RefreshSettle > 0 {
					time.Sleep(e.RefreshSettle)
				}
				return outcomeRefreshRestart, t2Err
			}
		case KindBotDetection:
			// Bot detection with valid credentials means this proxy's
			// identity is likely burned.
			log.WithField("proxy", hop.Name).Error("Bot detection on authenticated attempt")
		}
	}

	// A post-processing crash means the transfer itself worked; retry once
	// with the repair step disabled.
	if lastErr.Kind == KindPostprocessingError {
		log.Warn("Post-processing failed, retrying with fixup disabled")
		e.cleanup(spec.OutputPath)
		t3Err := e.Runner.Run(ctx, e.Bin, BuildArgs(tiers[2], spec, hop), progress)
		if t3Err == nil {
			return outcomeSuccess, nil
		}
		log.WithField("kind", t3Err.Kind.String()).Errorf("Fixup-disabled retry failed: %s", truncate(t3Err.Stderr, 500))
		lastErr = t3Err
	}

	return outcomeFailed, lastErr
}

// awaitRefresh asks the external collaborator for fresh credentials and
// waits a bounded time for the answer. A timeout counts as refusal.
func (e *Engine) awaitRefresh(ctx context.Context, reason, url string) bool {
	if e.Refresher == nil {
		return false
	}
	wait := e.RefreshWait
	if wait <= 0 {
		wait = 20 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	result := make(chan bool, 1)
	go func() {
		result <- e.Refresher.RequestRefresh(rctx, reason, url)
	}()

	select {
	case ok := <-result:
		return ok
	case <-rctx.Done():
		log.Warn("Credential refresh timed out, treating as refused")
		return false
	}
}

func (e *Engine) cleanup(path string) {
	if e.Cleanup != nil {
		e.Cleanup(path)
	}
}
