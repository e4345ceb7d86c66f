package mysql

import "fmt"

const (
	templateCols = "name, subject, html_body, text_body, from_address, from_name, active, created_by, created_at, updated_at"
	messageCols  = "id, template_name, recipient, subject, html_body, text_body, from_address, from_name, status, attempt_count, next_attempt_at, lease_expires_at, version, created_at, updated_at"
	logCols      = "id, message_id, action, details, created_at"
)

type queries struct {
	insertTemplate          string
	selectTemplate          string
	selectTemplateForUpdate string
	updateTemplate          string
	listTemplates           string

	insertMessage    string
	queuePosition    string
	selectMessage    string
	selectCandidates string
	selectExpired    string
	claimMessage     string
	markMessage      string
	requeueMessage   string
	selectForCancel  string
	cancelMessage    string
	countQueue       string

	insertLog     string
	selectHistory string
	messageExists string
}

func newQueries(tables tableNames) queries {
	return queries{
		insertTemplate: fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			tables.templates, templateCols,
		),
		selectTemplate: fmt.Sprintf(
			"SELECT %s FROM %s WHERE name = ?",
			templateCols, tables.templates,
		),
		selectTemplateForUpdate: fmt.Sprintf(
			"SELECT %s FROM %s WHERE name = ? FOR UPDATE",
			templateCols, tables.templates,
		),
		updateTemplate: fmt.Sprintf(
			"UPDATE %s SET subject = ?, html_body = ?, text_body = ?, from_address = ?, from_name = ?, active = ?, updated_at = ? WHERE name = ?",
			tables.templates,
		),
		listTemplates: fmt.Sprintf(
			"SELECT %s FROM %s ORDER BY name",
			templateCols, tables.templates,
		),
		insertMessage: fmt.Sprintf(
			"INSERT INTO %s (id, template_name, recipient, subject, html_body, text_body, from_address, from_name, status, version, created_at, updated_at) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)",
			tables.outbox,
		),
		queuePosition: fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE status = ? AND (created_at < ? OR (created_at = ? AND id < ?))",
			tables.outbox,
		),
		selectMessage: fmt.Sprintf(
			"SELECT %s FROM %s WHERE id = ?",
			messageCols, tables.outbox,
		),
		selectCandidates: fmt.Sprintf(
			"SELECT %s FROM %s WHERE status = ? OR (status = ? AND next_attempt_at <= ?) "+
				"ORDER BY created_at, id LIMIT ? FOR UPDATE SKIP LOCKED",
			messageCols, tables.outbox,
		),
		selectExpired: fmt.Sprintf(
			"SELECT id, attempt_count, version FROM %s WHERE status = ? AND lease_expires_at <= ? "+
				"ORDER BY created_at, id LIMIT ? FOR UPDATE SKIP LOCKED",
			tables.outbox,
		),
		claimMessage: fmt.Sprintf(
			"UPDATE %s SET status = ?, version = version + 1, lease_expires_at = ?, updated_at = ? WHERE id = ? AND version = ?",
			tables.outbox,
		),
		markMessage: fmt.Sprintf(
			"UPDATE %s SET status = ?, attempt_count = attempt_count + 1, version = version + 1, next_attempt_at = ?, lease_expires_at = NULL, updated_at = ? "+
				"WHERE id = ? AND version = ? AND status = ?",
			tables.outbox,
		),
		requeueMessage: fmt.Sprintf(
			"UPDATE %s SET status = ?, attempt_count = attempt_count + 1, version = version + 1, next_attempt_at = ?, lease_expires_at = NULL, updated_at = ? "+
				"WHERE id = ? AND version = ?",
			tables.outbox,
		),
		selectForCancel: fmt.Sprintf(
			"SELECT status, version FROM %s WHERE id = ? FOR UPDATE",
			tables.outbox,
		),
		cancelMessage: fmt.Sprintf(
			"UPDATE %s SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?",
			tables.outbox,
		),
		countQueue: fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE status IN (?, ?)",
			tables.outbox,
		),
		insertLog: fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?)",
			tables.log, logCols,
		),
		selectHistory: fmt.Sprintf(
			"SELECT %s FROM %s WHERE message_id = ? ORDER BY created_at, id",
			logCols, tables.log,
		),
		messageExists: fmt.Sprintf(
			"SELECT 1 FROM %s WHERE id = ?",
			tables.outbox,
		),
	}
}
