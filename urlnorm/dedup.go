package urlnorm

import "github.com/docutag/postscraper/models"

// FindExisting returns the stored post that is the same logical post as rawURL.
// A byte-identical URL wins; otherwise the first post with the same host+path
// (tracking parameters ignored) is returned. This is a linear scan over posts.
func FindExisting(rawURL string, posts []*models.Post) *models.Post {
	for _, p := range posts {
		if p.URL == rawURL {
			return p
		}
	}

	key := Key(rawURL)
	if key == "" {
		return nil
	}
	for _, p := range posts {
		if Key(p.URL) == key {
			return p
		}
	}
	return nil
}
