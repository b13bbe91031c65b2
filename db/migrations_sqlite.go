package db

var sqliteMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_posts_table",
		Up: `
			CREATE TABLE IF NOT EXISTS posts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				url TEXT NOT NULL,
				platform TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				categories TEXT NOT NULL DEFAULT '[]',
				data TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
