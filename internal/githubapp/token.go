package githubapp

import (
	"context"
	"net/http"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
)

// AccessToken is a short-lived installation token usable in an HTTPS clone
// URL as `x-access-token:<token>@...`.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// InstallationAccessToken implements the Git provider collaborator's
// get_installation_access_token contract: a fresh token fetched per Start,
// never cached beyond one deployment's clone step.
func (a *App) InstallationAccessToken(ctx context.Context, installationID int64) (AccessToken, error) {
	itr, err := ghinstallation.New(http.DefaultTransport, a.AppID, installationID, a.PrivateKeyPEM)
	if err != nil {
		return AccessToken{}, err
	}
	token, err := itr.Token(ctx)
	if err != nil {
		return AccessToken{}, err
	}
	expiresAt, _, err := itr.Expiry()
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: token, ExpiresAt: expiresAt}, nil
}

// Commit is the subset of commit metadata the Deployment row snapshots.
type Commit struct {
	SHA     string
	Message string
	Author  string
	Date    time.Time
}

// RepositoryCommit implements get_repository_commit: looks up a commit's
// message, author login, and author date for a given sha on an
// installation's repository.
func (a *App) RepositoryCommit(ctx context.Context, installationID int64, owner, repo, sha string) (Commit, error) {
	client, err := a.InstallationClient(installationID)
	if err != nil {
		return Commit{}, err
	}
	rc, _, err := client.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return Commit{}, err
	}
	c := Commit{SHA: rc.GetSHA()}
	if commit := rc.GetCommit(); commit != nil {
		c.Message = commit.GetMessage()
		if author := commit.GetAuthor(); author != nil {
			c.Date = author.GetDate().Time
		}
	}
	if author := rc.GetAuthor(); author != nil {
		c.Author = author.GetLogin()
	}
	return c, nil
}
