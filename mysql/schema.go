package mysql

import "fmt"

const templatesSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	name VARCHAR(128) NOT NULL,
	subject VARCHAR(998) NOT NULL,
	html_body MEDIUMTEXT NULL,
	text_body MEDIUMTEXT NULL,
	from_address VARCHAR(320) NULL,
	from_name VARCHAR(128) NULL,
	active TINYINT(1) NOT NULL DEFAULT 1,
	created_by VARCHAR(128) NULL,
	created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	PRIMARY KEY (name)
);`

const outboxSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BINARY(16) NOT NULL,
	template_name VARCHAR(128) NOT NULL,
	recipient VARCHAR(320) NOT NULL,
	subject VARCHAR(998) NOT NULL,
	html_body MEDIUMTEXT NULL,
	text_body MEDIUMTEXT NULL,
	from_address VARCHAR(320) NULL,
	from_name VARCHAR(128) NULL,
	status SMALLINT NOT NULL DEFAULT 0,
	attempt_count INT NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMP(6) NULL,
	lease_expires_at TIMESTAMP(6) NULL,
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	PRIMARY KEY (id),
	INDEX idx_status_created (status, created_at, id)
);`

const logSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BINARY(16) NOT NULL,
	message_id BINARY(16) NOT NULL,
	action SMALLINT NOT NULL,
	details VARCHAR(1024) NULL,
	created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	PRIMARY KEY (id),
	INDEX idx_message_created (message_id, created_at, id)
);`

// Schema returns the DDL statements for the three mailout tables, in
// creation order.
func Schema(prefix string) ([]string, error) {
	name, err := sanitizePrefix(prefix)
	if err != nil {
		return nil, err
	}

	tables := newTableNames(name)

	return []string{
		fmt.Sprintf(templatesSchemaTemplate, tables.templates),
		fmt.Sprintf(outboxSchemaTemplate, tables.outbox),
		fmt.Sprintf(logSchemaTemplate, tables.log),
	}, nil
}
