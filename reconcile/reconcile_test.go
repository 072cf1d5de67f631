package reconcile

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bitbuckethooks/filter"
	"bitbuckethooks/models"
)

const targetURL = "https://hooks.example.com/post"

// MockHookClient is a mock implementation of the Bitbucket client
type MockHookClient struct {
	mock.Mock
}

func (m *MockHookClient) ListRepositories(ctx context.Context, account string) ([]models.Repository, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Repository), args.Error(1)
}

func (m *MockHookClient) ListHooks(ctx context.Context, account, slug string) ([]models.Hook, error) {
	args := m.Called(ctx, account, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Hook), args.Error(1)
}

func (m *MockHookClient) CreateHook(ctx context.Context, account, slug string, hook models.Hook) (*models.Hook, error) {
	args := m.Called(ctx, account, slug, hook)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Hook), args.Error(1)
}

func repo(slug string) models.Repository {
	return models.Repository{
		Slug:      slug,
		HooksHref: "https://api.bitbucket.org/2.0/repositories/acme/" + slug + "/hooks",
	}
}

func expectedHook() models.Hook {
	return models.Hook{URL: targetURL, Description: "Slack integration", Active: true}
}

func newRun(whitelist, blacklist string) *models.Run {
	return models.NewRun(models.Credentials{
		Account:   "acme",
		Username:  "alice",
		Password:  "secret",
		HookURL:   targetURL,
		Whitelist: whitelist,
		Blacklist: blacklist,
	})
}

func runReconciler(t *testing.T, client *MockHookClient, run *models.Run) (*bytes.Buffer, error) {
	f, err := filter.New(run.Credentials.Whitelist, run.Credentials.Blacklist)
	require.NoError(t, err)
	var out bytes.Buffer
	err = New(client, f, "/2.0", "Slack integration", &out).Run(context.Background(), run)
	return &out, err
}

func TestRun(t *testing.T) {
	testCases := []struct {
		name             string
		whitelist        string
		blacklist        string
		setupMocks       func(*MockHookClient)
		expectedCounters models.RunCounters
		expectedOutput   []string
	}{
		{
			name: "two repos without the hook are both updated",
			setupMocks: func(m *MockHookClient) {
				m.On("ListRepositories", mock.Anything, "acme").
					Return([]models.Repository{repo("one"), repo("two")}, nil)
				m.On("ListHooks", mock.Anything, "acme", "one").Return([]models.Hook{}, nil)
				m.On("ListHooks", mock.Anything, "acme", "two").Return([]models.Hook{}, nil)
				m.On("CreateHook", mock.Anything, "acme", "one", expectedHook()).
					Return(&models.Hook{URL: targetURL}, nil).Once()
				m.On("CreateHook", mock.Anything, "acme", "two", expectedHook()).
					Return(&models.Hook{URL: targetURL}, nil).Once()
			},
			expectedCounters: models.RunCounters{Total: 2, Updated: 2},
			expectedOutput: []string{
				"Success! Found 2 repositories inside acme account.",
				"Testing repository: one",
				"Adding web hook to " + targetURL,
				"Added web hook",
			},
		},
		{
			name:      "blacklisted repo is never inspected",
			blacklist: "secret",
			setupMocks: func(m *MockHookClient) {
				m.On("ListRepositories", mock.Anything, "acme").
					Return([]models.Repository{repo("web"), repo("secret-repo"), repo("api")}, nil)
				m.On("ListHooks", mock.Anything, "acme", "web").Return([]models.Hook{}, nil)
				m.On("ListHooks", mock.Anything, "acme", "api").Return([]models.Hook{}, nil)
				m.On("CreateHook", mock.Anything, "acme", mock.Anything, expectedHook()).
					Return(&models.Hook{URL: targetURL}, nil).Twice()
			},
			expectedCounters: models.RunCounters{Total: 3, Updated: 2, Blacklisted: 1},
			expectedOutput:   []string{"Skipping repo secret-repo because is blacklisted"},
		},
		{
			name:      "blacklist wins over whitelist",
			whitelist: "repo",
			blacklist: "secret",
			setupMocks: func(m *MockHookClient) {
				m.On("ListRepositories", mock.Anything, "acme").
					Return([]models.Repository{repo("secret-repo"), repo("public-repo")}, nil)
				m.On("ListHooks", mock.Anything, "acme", "public-repo").Return([]models.Hook{}, nil)
				m.On("CreateHook", mock.Anything, "acme", "public-repo", expectedHook()).
					Return(&models.Hook{URL: targetURL}, nil)
			},
			expectedCounters: models.RunCounters{Total: 2, Updated: 1, Whitelisted: 1, Blacklisted: 1},
		},
		{
			name:      "repos outside the whitelist are excluded",
			whitelist: "^api-",
			setupMocks: func(m *MockHookClient) {
				m.On("ListRepositories", mock.Anything, "acme").
					Return([]models.Repository{repo("api-billing"), repo("website")}, nil)
				m.On("ListHooks", mock.Anything, "acme", "api-billing").Return([]models.Hook{}, nil)
				m.On("CreateHook", mock.Anything, "acme", "api-billing", expectedHook()).
					Return(&models.Hook{URL: targetURL}, nil)
			},
			expectedCounters: models.RunCounters{Total: 2, Updated: 1, Whitelisted: 1},
			expectedOutput:   []string{"Skipping repo website because does not match whitelist pattern"},
		},
		{
			name: "already integrated repo is left alone",
			setupMocks: func(m *MockHookClient) {
				m.On("ListRepositories", mock.Anything, "acme").
					Return([]models.Repository{repo("one")}, nil)
				m.On("ListHooks", mock.Anything, "acme", "one").Return([]models.Hook{
					{URL: "https://other.example.com"},
					{URL: targetURL, Active: true},
				}, nil)
			},
			expectedCounters: models.RunCounters{Total: 1},
			expectedOutput:   []string{"Already integrated with the web hook"},
		},
		{
			name: "url mismatch is a failure and the run continues",
			setupMocks: func(m *MockHookClient) {
				m.On("ListRepositories", mock.Anything, "acme").
					Return([]models.Repository{repo("one"), repo("two")}, nil)
				m.On("ListHooks", mock.Anything, "acme", "one").Return([]models.Hook{}, nil)
				m.On("ListHooks", mock.Anything, "acme", "two").Return([]models.Hook{}, nil)
				m.On("CreateHook", mock.Anything, "acme", "one", expectedHook()).
					Return(&models.Hook{URL: "https://elsewhere.example.com"}, nil)
				m.On("CreateHook", mock.Anything, "acme", "two", expectedHook()).
					Return(&models.Hook{URL: targetURL}, nil)
			},
			expectedCounters: models.RunCounters{Total: 2, Updated: 1},
			expectedOutput:   []string{"Failed to add web hook!", "Added web hook"},
		},
		{
			name: "create error and nil response are failures",
			setupMocks: func(m *MockHookClient) {
				m.On("ListRepositories", mock.Anything, "acme").
					Return([]models.Repository{repo("one"), repo("two")}, nil)
				m.On("ListHooks", mock.Anything, "acme", mock.Anything).Return([]models.Hook{}, nil)
				m.On("CreateHook", mock.Anything, "acme", "one", expectedHook()).
					Return(nil, assert.AnError)
				m.On("CreateHook", mock.Anything, "acme", "two", expectedHook()).
					Return(nil, nil)
			},
			expectedCounters: models.RunCounters{Total: 2},
			expectedOutput:   []string{"Failed to add web hook!"},
		},
		{
			name: "hook listing failure skips the repo",
			setupMocks: func(m *MockHookClient) {
				m.On("ListRepositories", mock.Anything, "acme").
					Return([]models.Repository{repo("one"), repo("two")}, nil)
				m.On("ListHooks", mock.Anything, "acme", "one").Return(nil, assert.AnError)
				m.On("ListHooks", mock.Anything, "acme", "two").Return([]models.Hook{}, nil)
				m.On("CreateHook", mock.Anything, "acme", "two", expectedHook()).
					Return(&models.Hook{URL: targetURL}, nil)
			},
			expectedCounters: models.RunCounters{Total: 2, Updated: 1},
			expectedOutput:   []string{"Failed to read web hooks"},
		},
		{
			name: "malformed link is skipped and not counted",
			setupMocks: func(m *MockHookClient) {
				m.On("ListRepositories", mock.Anything, "acme").Return([]models.Repository{
					{Slug: "odd", HooksHref: "https://api.bitbucket.org/2.0/repositories/someone-else/odd/hooks"},
					{Slug: "empty"},
					repo("one"),
				}, nil)
				m.On("ListHooks", mock.Anything, "acme", "one").Return([]models.Hook{{URL: targetURL}}, nil)
			},
			expectedCounters: models.RunCounters{Total: 1},
			expectedOutput:   []string{"Cannot match URL from https://api.bitbucket.org/2.0/repositories/someone-else/odd/hooks"},
		},
		{
			name: "repository listed twice is visited once",
			setupMocks: func(m *MockHookClient) {
				m.On("ListRepositories", mock.Anything, "acme").
					Return([]models.Repository{repo("one"), repo("one")}, nil)
				m.On("ListHooks", mock.Anything, "acme", "one").Return([]models.Hook{}, nil).Once()
				m.On("CreateHook", mock.Anything, "acme", "one", expectedHook()).
					Return(&models.Hook{URL: targetURL}, nil).Once()
			},
			expectedCounters: models.RunCounters{Total: 1, Updated: 1},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockClient := &MockHookClient{}
			tc.setupMocks(mockClient)
			run := newRun(tc.whitelist, tc.blacklist)

			out, err := runReconciler(t, mockClient, run)

			require.NoError(t, err)
			assert.Equal(t, tc.expectedCounters, run.Counters)
			assert.LessOrEqual(t, run.Counters.Updated, run.Counters.Total)
			for _, line := range tc.expectedOutput {
				assert.Contains(t, out.String(), line)
			}
			mockClient.AssertExpectations(t)
		})
	}
}

func TestRunBlacklistedRepoNeverQueried(t *testing.T) {
	mockClient := &MockHookClient{}
	mockClient.On("ListRepositories", mock.Anything, "acme").
		Return([]models.Repository{repo("secret-repo")}, nil)
	run := newRun("secret", "secret")

	_, err := runReconciler(t, mockClient, run)

	require.NoError(t, err)
	mockClient.AssertNotCalled(t, "ListHooks", mock.Anything, mock.Anything, mock.Anything)
	mockClient.AssertNotCalled(t, "CreateHook", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, models.RunCounters{Total: 1, Blacklisted: 1}, run.Counters)
}

// fakeHookClient keeps created hooks so a second run sees them.
type fakeHookClient struct {
	repos   []models.Repository
	hooks   map[string][]models.Hook
	created int
}

func (f *fakeHookClient) ListRepositories(_ context.Context, _ string) ([]models.Repository, error) {
	return f.repos, nil
}

func (f *fakeHookClient) ListHooks(_ context.Context, _, slug string) ([]models.Hook, error) {
	return f.hooks[slug], nil
}

func (f *fakeHookClient) CreateHook(_ context.Context, _, slug string, hook models.Hook) (*models.Hook, error) {
	f.created++
	f.hooks[slug] = append(f.hooks[slug], hook)
	return &hook, nil
}

func TestRunIsIdempotent(t *testing.T) {
	client := &fakeHookClient{
		repos: []models.Repository{repo("one"), repo("two")},
		hooks: map[string][]models.Hook{},
	}
	f, err := filter.New("", "")
	require.NoError(t, err)
	reconciler := New(client, f, "/2.0", "Slack integration", &bytes.Buffer{})

	first := newRun("", "")
	require.NoError(t, reconciler.Run(context.Background(), first))
	assert.Equal(t, models.RunCounters{Total: 2, Updated: 2}, first.Counters)

	second := newRun("", "")
	require.NoError(t, reconciler.Run(context.Background(), second))
	assert.Equal(t, models.RunCounters{Total: 2}, second.Counters)
	assert.Equal(t, 2, client.created)
}

func TestRunListingFailureIsFatal(t *testing.T) {
	mockClient := &MockHookClient{}
	mockClient.On("ListRepositories", mock.Anything, "acme").Return(nil, assert.AnError)
	run := newRun("", "")

	_, err := runReconciler(t, mockClient, run)

	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, models.RunCounters{}, run.Counters)
	mockClient.AssertNotCalled(t, "ListHooks", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	mockClient := &MockHookClient{}
	mockClient.On("ListRepositories", mock.Anything, "acme").
		Return([]models.Repository{repo("one")}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, _ := filter.New("", "")
	err := New(mockClient, f, "/2.0", "Slack integration", &bytes.Buffer{}).Run(ctx, newRun("", ""))

	assert.ErrorIs(t, err, context.Canceled)
	mockClient.AssertNotCalled(t, "ListHooks", mock.Anything, mock.Anything, mock.Anything)
}

func TestHooksLinkPattern(t *testing.T) {
	testCases := []struct {
		apiPath  string
		href     string
		expected string
		ok       bool
	}{
		{apiPath: "/2.0", href: "https://api.bitbucket.org/2.0/repositories/acme/widgets/hooks", expected: "widgets", ok: true},
		{apiPath: "/2.0", href: "https://bitbucket.org/!api/2.0/repositories/acme/widgets/hooks", expected: "widgets", ok: true},
		{apiPath: "/2.0", href: "https://api.bitbucket.org/2.0/repositories/ACME/widgets/hooks", expected: "widgets", ok: true},
		{apiPath: "/2.0", href: "http://127.0.0.1:8080/2.0/repositories/acme/widgets/hooks", expected: "widgets", ok: true},
		{apiPath: "/bitbucket/2.0", href: "https://proxy.example.com/bitbucket/2.0/repositories/acme/widgets/hooks", expected: "widgets", ok: true},
		{apiPath: "/bitbucket/2.0", href: "https://api.bitbucket.org/2.0/repositories/acme/widgets/hooks", expected: "widgets", ok: true},
		{apiPath: "/a.b", href: "https://proxy.example.com/axb/repositories/acme/widgets/hooks"},
		{apiPath: "/2.0", href: "https://proxy.example.com/bitbucket/2.0/repositories/acme/widgets/hooks"},
		{apiPath: "/2.0", href: "https://api.bitbucket.org/2.0/repositories/acmex/widgets/hooks"},
		{apiPath: "/2.0", href: "https://api.bitbucket.org/2.0/repositories/acme/widgets/pullrequests"},
		{apiPath: "/2.0", href: ""},
	}

	for _, tc := range testCases {
		path, err := repositoryPath(hooksLinkPattern(tc.apiPath, "acme"), tc.href)
		if tc.ok {
			assert.NoError(t, err, tc.href)
			assert.Equal(t, tc.expected, path)
		} else {
			assert.ErrorIs(t, err, ErrMalformedLink, tc.href)
		}
	}
}

func TestRunUnderPrefixedAPIPath(t *testing.T) {
	mockClient := &MockHookClient{}
	mockClient.On("ListRepositories", mock.Anything, "acme").Return([]models.Repository{{
		Slug:      "widgets",
		HooksHref: "https://proxy.example.com/bitbucket/2.0/repositories/acme/widgets/hooks",
	}}, nil)
	mockClient.On("ListHooks", mock.Anything, "acme", "widgets").Return([]models.Hook{}, nil)
	mockClient.On("CreateHook", mock.Anything, "acme", "widgets", expectedHook()).
		Return(&models.Hook{URL: targetURL}, nil)

	f, err := filter.New("", "")
	require.NoError(t, err)
	run := newRun("", "")
	err = New(mockClient, f, "/bitbucket/2.0/", "Slack integration", &bytes.Buffer{}).Run(context.Background(), run)

	require.NoError(t, err)
	assert.Equal(t, models.RunCounters{Total: 1, Updated: 1}, run.Counters)
	mockClient.AssertExpectations(t)
}
