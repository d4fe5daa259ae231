package store

import "context"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS mailbox (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		owner_identifier VARCHAR(255) NOT NULL,
		pst_filename VARCHAR(512) NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uniq_mailbox_source (pst_filename)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS identity (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		email_address VARCHAR(320) NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uniq_identity_address (email_address)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS email (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		message_fingerprint CHAR(64) NOT NULL,
		subject TEXT,
		sender_identity_id BIGINT UNSIGNED NULL,
		sent_at DATETIME NOT NULL,
		raw_body LONGBLOB,
		normalized_body LONGTEXT,
		has_attachments TINYINT(1) NOT NULL DEFAULT 0,
		PRIMARY KEY (id),
		UNIQUE KEY uniq_email_fingerprint (message_fingerprint),
		KEY idx_email_sender (sender_identity_id),
		CONSTRAINT fk_email_sender FOREIGN KEY (sender_identity_id) REFERENCES identity (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS email_recipient (
		email_id BIGINT UNSIGNED NOT NULL,
		identity_id BIGINT UNSIGNED NOT NULL,
		PRIMARY KEY (email_id, identity_id),
		CONSTRAINT fk_recipient_email FOREIGN KEY (email_id) REFERENCES email (id),
		CONSTRAINT fk_recipient_identity FOREIGN KEY (identity_id) REFERENCES identity (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS email_mailbox (
		email_id BIGINT UNSIGNED NOT NULL,
		mailbox_id BIGINT UNSIGNED NOT NULL,
		PRIMARY KEY (email_id, mailbox_id),
		CONSTRAINT fk_link_email FOREIGN KEY (email_id) REFERENCES email (id),
		CONSTRAINT fk_link_mailbox FOREIGN KEY (mailbox_id) REFERENCES mailbox (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS attachment (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		email_id BIGINT UNSIGNED NOT NULL,
		filename VARCHAR(1024),
		size BIGINT NOT NULL,
		storage_path VARCHAR(1024) NOT NULL,
		PRIMARY KEY (id),
		KEY idx_attachment_email (email_id),
		CONSTRAINT fk_attachment_email FOREIGN KEY (email_id) REFERENCES email (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates any missing tables. Existing tables are left alone;
// this pipeline never alters or drops.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
