package publisher

import (
	"os"
	"os/user"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
)

// resolveAuthor fills the missing parts of the release author from the git
// configuration, then from the local account, then from fixed defaults.
func resolveAuthor(repo *git.Repository, name, email string) (string, string) {
	if name != "" && email != "" {
		return name, email
	}

	if cfg, err := repo.ConfigScoped(config.GlobalScope); err == nil {
		name = firstNonEmpty(name, cfg.User.Name, cfg.Author.Name)
		email = firstNonEmpty(email, cfg.User.Email, cfg.Author.Email)
	}

	if name == "" || email == "" {
		if username, hostname, ok := detectAccount(); ok {
			name = firstNonEmpty(name, username)
			email = firstNonEmpty(email, username+"@"+hostname)
		}
	}

	return firstNonEmpty(name, defaultAuthorName), firstNonEmpty(email, defaultAuthorEmail)
}

// detectAccount returns the OS user and host running the release.
func detectAccount() (string, string, bool) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "", "", false
	}

	current, err := user.Current()
	if err != nil || current.Username == "" {
		return "", "", false
	}

	return current.Username, hostname, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
