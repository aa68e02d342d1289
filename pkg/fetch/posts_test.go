package fetch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
	"github.com/johnwbyrd/yalje/pkg/models"
	"github.com/johnwbyrd/yalje/pkg/retry"
)

type fakePostSource struct {
	responses map[string]string
	errors    map[string]error
	calls     []string
}

func monthKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

func (s *fakePostSource) FetchMonth(_ context.Context, year, month int) (string, error) {
	key := monthKey(year, month)
	s.calls = append(s.calls, key)
	if err, ok := s.errors[key]; ok {
		return "", err
	}
	if body, ok := s.responses[key]; ok {
		return body, nil
	}
	return `<livejournal></livejournal>`, nil
}

func postXML(itemIDs ...int) string {
	body := "<livejournal>"
	for _, id := range itemIDs {
		body += fmt.Sprintf("<entry><itemid>%d</itemid><eventtime>2023-01-01 00:00:00</eventtime><event>x</event><security>public</security></entry>", id)
	}
	return body + "</livejournal>"
}

func noRetry() *retry.Config {
	return &retry.Config{
		MaxAttempts: 1,
		Backoff:     &retry.ConstantBackoff{Delay: 0},
		RetryIf:     retry.DefaultRetryIf,
	}
}

func TestFetchRangeChronological(t *testing.T) {
	source := &fakePostSource{
		responses: map[string]string{
			"2023-01": postXML(116736),
			"2023-03": postXML(117760, 118016),
		},
	}
	fetcher := NewPostFetcher(source, nil, nil, noRetry(), nil)

	result, err := fetcher.FetchRange(context.Background(), Month{2023, 1}, Month{2023, 3})
	require.NoError(t, err)

	assert.Equal(t, []string{"2023-01", "2023-02", "2023-03"}, source.calls)
	assert.Len(t, result.Posts, 3)
	assert.Empty(t, result.FailedMonths)
	assert.True(t, result.Complete)
}

func TestFetchRangeEmptyMonthContinues(t *testing.T) {
	source := &fakePostSource{
		responses: map[string]string{
			"2023-01": postXML(116736),
			// 2023-02 returns the empty document
			"2023-03": postXML(117760),
		},
	}
	fetcher := NewPostFetcher(source, nil, nil, noRetry(), nil)

	result, err := fetcher.FetchRange(context.Background(), Month{2023, 1}, Month{2023, 3})
	require.NoError(t, err)
	assert.Len(t, result.Posts, 2)
	assert.Empty(t, result.FailedMonths, "an empty month is not a failure")
	assert.Contains(t, source.calls, "2023-03")
}

func TestFetchRangeFailedMonthDoesNotAbortSiblings(t *testing.T) {
	source := &fakePostSource{
		responses: map[string]string{
			"2023-01": postXML(116736),
			"2023-03": postXML(117760),
		},
		errors: map[string]error{
			"2023-02": errs.WithCode(errs.ErrorTypeServerError, "server error", 500),
		},
	}
	fetcher := NewPostFetcher(source, nil, nil, noRetry(), nil)

	result, err := fetcher.FetchRange(context.Background(), Month{2023, 1}, Month{2023, 3})
	require.NoError(t, err)
	assert.Len(t, result.Posts, 2)
	require.Len(t, result.FailedMonths, 1)
	assert.Equal(t, Month{2023, 2}, result.FailedMonths[0])
	assert.True(t, result.Complete)
}

func TestFetchRangeCancelReturnsResumptionMonth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &fakePostSource{
		responses: map[string]string{
			"2023-01": postXML(116736),
		},
	}

	fetcher := NewPostFetcher(source, nil, nil, noRetry(), nil)
	fetcher.OnMonth = func(next Month, _ []models.RawPost) {
		cancel()
	}

	result, err := fetcher.FetchRange(ctx, Month{2023, 1}, Month{2023, 12})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Complete)
	assert.Equal(t, Month{2023, 2}, result.NextMonth)
	assert.Len(t, result.Posts, 1)
}

func TestMonthArithmetic(t *testing.T) {
	assert.Equal(t, Month{2024, 1}, Month{2023, 12}.Next())
	assert.Equal(t, Month{2023, 6}, Month{2023, 5}.Next())
	assert.True(t, Month{2023, 6}.After(Month{2023, 5}))
	assert.True(t, Month{2024, 1}.After(Month{2023, 12}))
	assert.False(t, Month{2023, 5}.After(Month{2023, 5}))
	assert.Equal(t, "2023-02", Month{2023, 2}.String())
}
