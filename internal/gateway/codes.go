package gateway

var responseMessages = map[string]string{
	"00": "Payment successful",
	"07": "Payment deducted but flagged as suspicious",
	"09": "Card or account is not registered for internet banking",
	"10": "Card or account authentication failed more than 3 times",
	"11": "Payment window expired",
	"12": "Card or account is locked",
	"13": "Wrong one-time password",
	"24": "Payment cancelled by customer",
	"51": "Insufficient funds in account",
	"65": "Daily transaction limit exceeded",
	"75": "Issuing bank is under maintenance",
	"79": "Wrong payment password entered too many times",
	"99": "Unknown gateway error",
}

// ResponseMessage возвращает понятное пользователю описание кода ответа шлюза.
func ResponseMessage(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return "Payment failed with gateway code " + code
}

// Коды подтверждения серверного уведомления (IPN).
const (
	AckConfirmed        = "00"
	AckOrderNotFound    = "01"
	AckAlreadyConfirmed = "02"
	AckInvalidAmount    = "04"
	AckInvalidSignature = "97"
	AckUnknownError     = "99"
)

// Ack содержит ответ на серверное уведомление шлюза.
type Ack struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}
