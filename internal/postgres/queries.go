package postgres

const (
	queryUpsertParticipant = `
		INSERT INTO room_participants (room_id, connection_id, user_id, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, connection_id)
		DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at;
	`
	queryListByRoom = `
		SELECT room_id, connection_id, user_id, expires_at
		FROM room_participants
		WHERE room_id = $1 AND expires_at > $2;
	`
	queryListByConnection = `
		SELECT room_id, connection_id, user_id, expires_at
		FROM room_participants
		WHERE connection_id = $1 AND expires_at > $2;
	`
	queryDeleteParticipant = `DELETE FROM room_participants WHERE room_id = $1 AND connection_id = $2;`
	queryPurgeExpired      = `DELETE FROM room_participants WHERE expires_at <= $1;`
)
