package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrNotEligible       ErrCode = "NOT_ELIGIBLE"
	ErrAttemptNotStarted ErrCode = "ATTEMPT_NOT_STARTED"
	ErrAttemptLocked     ErrCode = "ATTEMPT_LOCKED"
	ErrAttemptSubmitted  ErrCode = "ATTEMPT_SUBMITTED"
	ErrQuestionNotInExam ErrCode = "QUESTION_NOT_IN_EXAM"

	// ─── Unlock review ─────────────────────────────────────────────────
	ErrAttemptNotLocked ErrCode = "ATTEMPT_NOT_LOCKED"
	ErrUnlockPending    ErrCode = "UNLOCK_PENDING"
	ErrUnlockResolved   ErrCode = "UNLOCK_ALREADY_RESOLVED"

	// ─── Code execution ────────────────────────────────────────────────
	ErrHiddenTestCase   ErrCode = "HIDDEN_TEST_CASE"
	ErrExecutionFailed  ErrCode = "EXECUTION_FAILED"
	ErrExecutionTimeout ErrCode = "EXECUTION_TIMEOUT"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email/NISN atau kata sandi salah."
	case ErrSessionActive:
		return "Anda sudah login di perangkat lain."
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrNotEligible:
		return "Anda tidak dapat memulai ujian ini."
	case ErrAttemptNotStarted:
		return "Anda belum memulai ujian ini."
	case ErrAttemptLocked:
		return "Ujian Anda dikunci dan menunggu peninjauan pengawas."
	case ErrAttemptSubmitted:
		return "Ujian Anda sudah dikumpulkan."
	case ErrQuestionNotInExam:
		return "Soal tidak termasuk dalam ujian ini."

	// ─── Unlock review ─────────────────────────────────────────────────
	case ErrAttemptNotLocked:
		return "Ujian tidak dalam keadaan terkunci."
	case ErrUnlockPending:
		return "Permintaan buka kunci sebelumnya masih menunggu peninjauan."
	case ErrUnlockResolved:
		return "Permintaan buka kunci sudah diproses."

	// ─── Code execution ────────────────────────────────────────────────
	case ErrHiddenTestCase:
		return "Kasus uji tersembunyi tidak dapat dijalankan."
	case ErrExecutionFailed:
		return "Kode gagal dijalankan. Silakan coba lagi."
	case ErrExecutionTimeout:
		return "Layanan eksekusi kode tidak merespons tepat waktu."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
