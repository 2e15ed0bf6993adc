package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/market"
)

const pageURL = "https://www.olx.pl/d/oferty/q-lampa/?page=2"

func newTestNavigator() *Navigator {
	return NewNavigator(testNavigatorConfig(), NewChallengeDetector(market.OLX()), zap.NewNop())
}

func openOn(t *testing.T, site *fakeSite, firstLoad bool) (NavResult, error) {
	t.Helper()
	page, err := site.Acquire(context.Background(), false)
	require.NoError(t, err)
	return newTestNavigator().Open(context.Background(), page, pageURL, firstLoad)
}

func TestNavigatorReady(t *testing.T) {
	t.Parallel()

	site := newFakeSite(func(string, int) (string, error) { return resultsHTML("a", 3), nil })
	res, err := openOn(t, site, true)
	require.NoError(t, err)
	require.Equal(t, 1, res.Attempts)
	require.False(t, res.Reloaded)
	require.Zero(t, site.reloads)
}

func TestNavigatorFirstLoadChallengeFailsWithoutReload(t *testing.T) {
	t.Parallel()

	site := newFakeSite(func(string, int) (string, error) { return blockedHTML, nil })
	_, err := openOn(t, site, true)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAntiBot)

	var abe *AntiBotError
	require.ErrorAs(t, err, &abe)
	require.False(t, abe.Persist)
	require.Equal(t, market.ChallengeAccessDenied, abe.Kind)
	require.Equal(t, pageURL, abe.URL)
	require.Zero(t, site.reloads)
}

func TestNavigatorReloadClearsChallenge(t *testing.T) {
	t.Parallel()

	site := newFakeSite(func(_ string, visit int) (string, error) {
		if visit == 1 {
			return blockedHTML, nil
		}
		return resultsHTML("a", 3), nil
	})
	res, err := openOn(t, site, false)
	require.NoError(t, err)
	require.True(t, res.Reloaded)
	require.Equal(t, 1, site.reloads)
	require.Equal(t, 1, site.navigationCount())
}

func TestNavigatorPersistentChallenge(t *testing.T) {
	t.Parallel()

	site := newFakeSite(func(string, int) (string, error) { return blockedHTML, nil })
	_, err := openOn(t, site, false)
	require.ErrorIs(t, err, ErrAntiBot)

	var abe *AntiBotError
	require.ErrorAs(t, err, &abe)
	require.True(t, abe.Persist)
	require.Equal(t, 1, site.reloads, "exactly one reload before giving up")
}

func TestNavigatorFailedReloadIsNavigationError(t *testing.T) {
	t.Parallel()

	site := newFakeSite(func(_ string, visit int) (string, error) {
		if visit == 1 {
			return blockedHTML, nil
		}
		return "", errors.New("net::ERR_CONNECTION_RESET")
	})
	res, err := openOn(t, site, false)
	require.ErrorIs(t, err, ErrNavigation)
	require.NotErrorIs(t, err, ErrAntiBot)
	require.True(t, res.Reloaded)
	require.Equal(t, 1, site.reloads)
}

func TestNavigatorRetriesNavigationErrors(t *testing.T) {
	t.Parallel()

	site := newFakeSite(func(_ string, visit int) (string, error) {
		if visit < 3 {
			return "", errors.New("net::ERR_CONNECTION_RESET")
		}
		return resultsHTML("a", 3), nil
	})
	res, err := openOn(t, site, false)
	require.NoError(t, err)
	require.Equal(t, 3, res.Attempts)
}

func TestNavigatorGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	boom := errors.New("net::ERR_TIMED_OUT")
	site := newFakeSite(func(string, int) (string, error) { return "", boom })
	res, err := openOn(t, site, false)
	require.ErrorIs(t, err, ErrNavigation)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 3, site.navigationCount())
}

func TestNavigatorStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	site := newFakeSite(func(string, int) (string, error) { return "", context.Canceled })
	page, err := site.Acquire(context.Background(), false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newTestNavigator().Open(ctx, page, pageURL, false)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNavigation)
	require.Equal(t, 1, res.Attempts)
}
