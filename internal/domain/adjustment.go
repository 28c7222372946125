package domain

// AdjustmentType — вид административной корректировки физического остатка.
type AdjustmentType string

const (
	// AdjustmentIncrease увеличивает физический остаток на quantity.
	AdjustmentIncrease AdjustmentType = "increase"
	// AdjustmentDecrease уменьшает физический остаток на quantity.
	AdjustmentDecrease AdjustmentType = "decrease"
	// AdjustmentSet выставляет физический остаток ровно в quantity.
	AdjustmentSet AdjustmentType = "set"
)

// Valid проверяет, что вид корректировки относится к поддерживаемым значениям.
func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentIncrease, AdjustmentDecrease, AdjustmentSet:
		return true
	default:
		return false
	}
}

// AuditOperation возвращает вид операции журнала для данной корректировки.
func (t AdjustmentType) AuditOperation() AuditOperation {
	switch t {
	case AdjustmentIncrease:
		return AuditOpIncrease
	case AdjustmentDecrease:
		return AuditOpDecrease
	default:
		return AuditOpSet
	}
}

// AdjustmentCommand описывает одну административную корректировку остатка.
type AdjustmentCommand struct {
	ProductID string
	Type      AdjustmentType
	Quantity  int64
	Reason    AuditReason
	Notes     string
	Actor     string
}

// Validate проверяет корректность команды до обращения к складу.
func (c *AdjustmentCommand) Validate() []error {
	var errs []error

	if c.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if !c.Type.Valid() {
		errs = append(errs, ErrAdjustmentTypeInvalid)
	}
	// Для set допустим ноль, для increase/decrease количество строго положительное.
	if c.Type == AdjustmentSet {
		if c.Quantity < 0 {
			errs = append(errs, ErrAdjustmentQtyInvalid)
		}
	} else if c.Quantity <= 0 {
		errs = append(errs, ErrAdjustmentQtyInvalid)
	}
	if !c.Reason.Valid() {
		errs = append(errs, ErrAuditReasonInvalid)
	}
	if c.Actor == "" {
		errs = append(errs, ErrActorRequired)
	}

	return errs
}

// AdjustmentResult — итог успешной корректировки.
type AdjustmentResult struct {
	ProductID        string
	NewPhysicalStock int64
	AvailableAfter   int64
}

// BulkAdjustmentError описывает отказ одной позиции батча.
type BulkAdjustmentError struct {
	ProductID string `json:"product_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// BulkAdjustmentResult — итог батча: позиции независимы, частичный успех
// является контрактом, а не сбоем.
type BulkAdjustmentResult struct {
	UpdatedCount int
	Results      []AdjustmentResult
	Errors       []BulkAdjustmentError
}
