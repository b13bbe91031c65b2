package db

// Post rows keep the full record as JSON in data; status, categories and
// created_at are duplicated into columns for filtering and ordering.

var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_posts_table",
		Up: `
			CREATE TABLE IF NOT EXISTS posts (
				id BIGSERIAL PRIMARY KEY,
				url TEXT NOT NULL,
				platform TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				categories TEXT NOT NULL DEFAULT '[]',
				data TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_posts_created_at;
			DROP TABLE IF EXISTS posts;
		`,
	},
	{
		Version: 2,
		Name:    "add_posts_status_index",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_posts_status ON posts(status);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_posts_status;
		`,
	},
	{
		Version: 3,
		Name:    "add_posts_url_index",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_posts_url ON posts(url);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_posts_url;
		`,
	},
}
