package database

var mysqlSchema = []string{`
CREATE TABLE IF NOT EXISTS users (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    telegram_id BIGINT NOT NULL UNIQUE,
    username VARCHAR(255),
    first_name VARCHAR(255),
    free_generations_used INT NOT NULL DEFAULT 0,
    paid_generations_used INT NOT NULL DEFAULT 0,
    total_generations INT NOT NULL DEFAULT 0,
    total_paid BIGINT NOT NULL DEFAULT 0,
    created_at DATETIME(3) NOT NULL,
    updated_at DATETIME(3) NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    payment_id VARCHAR(128) NOT NULL UNIQUE,
    user_id BIGINT NOT NULL,
    amount BIGINT NOT NULL,
    currency VARCHAR(8) NOT NULL,
    status VARCHAR(16) NOT NULL,
    created_at DATETIME(3) NOT NULL,
    updated_at DATETIME(3) NOT NULL,
    completed_at DATETIME(3) NULL,
    INDEX idx_payments_user_status (user_id, status),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`, `
CREATE TABLE IF NOT EXISTS creatives (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    original_photo_url TEXT NOT NULL,
    prompt TEXT NOT NULL,
    generated_image_url TEXT NOT NULL,
    caption TEXT,
    created_at DATETIME(3) NOT NULL,
    INDEX idx_creatives_user (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,
}

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    telegram_id INTEGER NOT NULL UNIQUE,
    username TEXT,
    first_name TEXT,
    free_generations_used INTEGER NOT NULL DEFAULT 0,
    paid_generations_used INTEGER NOT NULL DEFAULT 0,
    total_generations INTEGER NOT NULL DEFAULT 0,
    total_paid INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS payments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    payment_id TEXT NOT NULL UNIQUE,
    user_id INTEGER NOT NULL REFERENCES users(id),
    amount INTEGER NOT NULL,
    currency TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    completed_at DATETIME
)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_user_status ON payments (user_id, status)`, `
CREATE TABLE IF NOT EXISTS creatives (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    original_photo_url TEXT NOT NULL,
    prompt TEXT NOT NULL,
    generated_image_url TEXT NOT NULL,
    caption TEXT,
    created_at DATETIME NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_creatives_user ON creatives (user_id, created_at)`,
}
