package postgres

const (
	QueryCreateInquiry = `
		INSERT INTO inquiries (brand_id, creator_id, brand_user_id, creator_user_id, message, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at;
	`
	QueryGetInquiry = `
		SELECT id, brand_id, creator_id, brand_user_id, creator_user_id, message, status, last_seq, created_at, updated_at
		FROM inquiries
		WHERE id = $1;
	`
	// Блокирует строку заявки: точка линеаризации переписки.
	QueryLockInquiry = `
		SELECT id, brand_id, creator_id, brand_user_id, creator_user_id, message, status, last_seq, created_at, updated_at
		FROM inquiries
		WHERE id = $1
		FOR UPDATE;
	`
	QueryUpdateInquiryStatus = `
		UPDATE inquiries SET status = $2, updated_at = $3 WHERE id = $1;
	`
	QueryBumpInquirySeq = `
		UPDATE inquiries SET last_seq = last_seq + 1 WHERE id = $1 RETURNING last_seq;
	`
	QueryInsertMessage = `
		INSERT INTO inquiry_messages (inquiry_id, seq, sender_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at;
	`
	QueryListMessagesSince = `
		SELECT id, inquiry_id, seq, sender_id, content, created_at
		FROM inquiry_messages
		WHERE inquiry_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3;
	`
	QueryInquiryHead = `SELECT last_seq FROM inquiries WHERE id = $1;`

	QueryBrandByUser   = `SELECT id, user_id, display_name FROM brands WHERE user_id = $1;`
	QueryCreatorByUser = `SELECT id, user_id, display_name FROM creators WHERE user_id = $1;`
	QueryCreatorByID   = `SELECT id, user_id, display_name FROM creators WHERE id = $1;`
)

// inquiryColumns: для построителя запросов (squirrel) в List.
var inquiryColumns = []string{
	"id", "brand_id", "creator_id", "brand_user_id", "creator_user_id",
	"message", "status", "last_seq", "created_at", "updated_at",
}
