package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shurcooL/githubv4"
	"github.com/wesm/issuemirror/internal/models"
)

// lowQuota is the remaining GraphQL budget below which the quota is logged
const lowQuota = 1000

// GraphQLClient represents a client for the GitHub GraphQL API
type GraphQLClient struct {
	client *githubv4.Client
	logger *slog.Logger
}

// NewGraphQLClient creates a GraphQL client on top of an authenticated HTTP client
func NewGraphQLClient(httpClient *http.Client) *GraphQLClient {
	return &GraphQLClient{client: githubv4.NewClient(httpClient), logger: slog.Default()}
}

// NewEnterpriseGraphQLClient creates a GraphQL client for another endpoint
func NewEnterpriseGraphQLClient(url string, httpClient *http.Client) *GraphQLClient {
	return &GraphQLClient{client: githubv4.NewEnterpriseClient(url, httpClient), logger: slog.Default()}
}

// rateLimit is selected alongside queries to watch the GraphQL quota
type rateLimit struct {
	Remaining githubv4.Int
	ResetAt   githubv4.DateTime
}

// DeleteIssue resolves the node id of an issue number and deletes the issue
func (c *GraphQLClient) DeleteIssue(ctx context.Context, owner, name string, number int) error {
	var query struct {
		RateLimit  rateLimit
		Repository struct {
			Issue *struct {
				ID githubv4.ID
			} `graphql:"issue(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	variables := map[string]interface{}{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(name),
		"number": githubv4.Int(number),
	}
	if err := c.client.Query(ctx, &query, variables); err != nil {
		return fmt.Errorf("failed to query issue #%d: %w", number, translateGraphQL(err))
	}
	c.checkQuota(query.RateLimit)
	if query.Repository.Issue == nil {
		return fmt.Errorf("issue #%d: %w", number, models.ErrNotFound)
	}

	var mutation struct {
		DeleteIssue struct {
			ClientMutationID githubv4.String
		} `graphql:"deleteIssue(input: $input)"`
	}
	input := githubv4.DeleteIssueInput{IssueID: query.Repository.Issue.ID}
	if err := c.client.Mutate(ctx, &mutation, input, nil); err != nil {
		return fmt.Errorf("failed to delete issue #%d: %w", number, translateGraphQL(err))
	}
	return nil
}

func (c *GraphQLClient) checkQuota(rl rateLimit) {
	if int(rl.Remaining) < lowQuota {
		c.logger.Warn("GraphQL rate limit low", "remaining", int(rl.Remaining),
			"reset", rl.ResetAt.Time.Format(time.RFC3339))
	}
}

// translateGraphQL maps GraphQL error messages onto the error taxonomy
func translateGraphQL(err error) error {
	if err == nil || isContextErr(err) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "could not resolve"), strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %w", models.ErrNotFound, err)
	case strings.Contains(msg, "rate limit"):
		return &models.RateLimitError{ResetTime: time.Now().Add(time.Minute)}
	default:
		return fmt.Errorf("%w: %w", models.ErrTransport, err)
	}
}
