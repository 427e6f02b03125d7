package workflow

import (
	"context"
	"sort"
	"strings"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const ledgerModule = "BalanceLedger"

// BalanceLedger owns every read and write touching a Matrix budget. Abatement writes
// run under Locker plus a row lock on the Matrix so the budget check and the insert
// see the same set of children.
type BalanceLedger struct {
	DB     *gorm.DB
	Locker MatrixLocker
	Logger *logrus.Logger
}

func NewBalanceLedger(db *gorm.DB, locker MatrixLocker, logger *logrus.Logger) *BalanceLedger {
	if locker == nil {
		locker = NewKeyedMutex(config.MatrixLockTimeout())
	}
	return &BalanceLedger{DB: db, Locker: locker, Logger: loggerOrDefault(logger)}
}

type MatrixBalance struct {
	Matrix    *models.InsertionOrder `json:"matrix"`
	Consumed  decimal.Decimal        `json:"consumed"`
	Remaining decimal.Decimal        `json:"remaining"`
}

type MatrixSummary struct {
	MatrixBalance
	Abatements []*models.InsertionOrder `json:"abatements"`
}

// MatrixOrdering selects the sort order of ListActiveMatrices.
type MatrixOrdering string

const (
	OrderByRemainingDesc   MatrixOrdering = "remaining_desc"
	OrderByOrderNumberAsc  MatrixOrdering = "order_number_asc"
	OrderByOrderNumberDesc MatrixOrdering = "order_number_desc"
)

func ParseMatrixOrdering(s string) (MatrixOrdering, error) {
	switch o := MatrixOrdering(strings.TrimSpace(s)); o {
	case "":
		return OrderByRemainingDesc, nil
	case OrderByRemainingDesc, OrderByOrderNumberAsc, OrderByOrderNumberDesc:
		return o, nil
	}
	return "", utils.NewFieldValidation("order", "oneof=remaining_desc order_number_asc order_number_desc")
}

func sumGross(orders []*models.InsertionOrder) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.GrossValue)
	}
	return total
}

func (l *BalanceLedger) warnIfOverdrawn(funcName string, matrix *models.InsertionOrder, consumed decimal.Decimal) {
	remaining := matrix.GrossValue.Sub(consumed)
	if remaining.IsNegative() {
		loggerOrDefault(l.Logger).WithFields(logrus.Fields{
			"module":    ledgerModule,
			"func":      funcName,
			"matrix":    matrix.OrderNumber,
			"gross":     matrix.GrossValue.String(),
			"consumed":  consumed.String(),
			"remaining": remaining.String(),
		}).Warn("matrix consumed exceeds gross value")
	}
}

func getMatrix(db *gorm.DB, matrixOrderNumber string) (*models.InsertionOrder, error) {
	var matrix models.InsertionOrder
	err := db.Where("order_number = ? AND kind = ?", matrixOrderNumber, models.OrderKindMatrix).First(&matrix).Error
	if err != nil {
		return nil, utils.ClassifyDBError(err, "matrix", matrixOrderNumber)
	}
	return &matrix, nil
}

// ComputeConsumed sums the gross value of every Abatement of the Matrix. A Matrix
// without children, or an unknown order number, consumes zero.
func (l *BalanceLedger) ComputeConsumed(ctx context.Context, matrixOrderNumber string) (decimal.Decimal, error) {
	children, err := models.FindAbatements(l.DB.WithContext(ctx), strings.TrimSpace(matrixOrderNumber))
	if err != nil {
		return decimal.Zero, err
	}
	return sumGross(children), nil
}

// ComputeRemaining returns gross minus consumed. A negative result is returned as is.
func (l *BalanceLedger) ComputeRemaining(ctx context.Context, matrixOrderNumber string) (decimal.Decimal, error) {
	balance, err := l.Balance(ctx, matrixOrderNumber)
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Remaining, nil
}

// Balance reads the Matrix and its consumption in one pass.
func (l *BalanceLedger) Balance(ctx context.Context, matrixOrderNumber string) (*MatrixBalance, error) {
	summary, err := l.MatrixSummary(ctx, matrixOrderNumber)
	if err != nil {
		return nil, err
	}
	return &summary.MatrixBalance, nil
}

func (l *BalanceLedger) MatrixSummary(ctx context.Context, matrixOrderNumber string) (*MatrixSummary, error) {
	matrixOrderNumber = strings.TrimSpace(matrixOrderNumber)
	db := l.DB.WithContext(ctx)
	matrix, err := getMatrix(db, matrixOrderNumber)
	if err != nil {
		return nil, err
	}
	children, err := models.FindAbatements(db, matrixOrderNumber)
	if err != nil {
		return nil, err
	}
	consumed := sumGross(children)
	l.warnIfOverdrawn("MatrixSummary", matrix, consumed)
	return &MatrixSummary{
		MatrixBalance: MatrixBalance{
			Matrix:    matrix,
			Consumed:  consumed,
			Remaining: matrix.GrossValue.Sub(consumed),
		},
		Abatements: children,
	}, nil
}

func (l *BalanceLedger) CreateMatrix(ctx context.Context, input *models.NewInsertionOrder) (*models.InsertionOrder, error) {
	order, err := models.BuildInsertionOrder(input, models.OrderKindMatrix, nil)
	if err != nil {
		return nil, err
	}
	err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return models.InsertInsertionOrder(tx, order)
	})
	if err != nil {
		return nil, utils.ClassifyDBError(err, "insertion order", order.OrderNumber)
	}
	return order, nil
}

// CreateAbatement inserts an Abatement under matrixOrderNumber. Kind and parent are
// always set here regardless of input. The new gross value plus what the Matrix has
// already consumed must not exceed the Matrix gross value.
func (l *BalanceLedger) CreateAbatement(ctx context.Context, matrixOrderNumber string, input *models.NewInsertionOrder) (result *models.InsertionOrder, err error) {
	matrixOrderNumber = strings.TrimSpace(matrixOrderNumber)
	ctx, span := startSpan(ctx, "BalanceLedger.CreateAbatement", attribute.String("matrix", matrixOrderNumber))
	defer func() { endSpan(span, err) }()

	order, err := models.BuildInsertionOrder(input, models.OrderKindAbatement, &matrixOrderNumber)
	if err != nil {
		return nil, err
	}

	unlock, err := l.Locker.Lock(ctx, matrixOrderNumber)
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		matrix, err := lockMatrixRow(tx, matrixOrderNumber)
		if err != nil {
			return err
		}
		if err := models.EnsureOrderNumberFree(tx, order.OrderNumber); err != nil {
			return err
		}
		children, err := models.FindAbatements(tx, matrixOrderNumber)
		if err != nil {
			return err
		}
		consumed := sumGross(children)
		remaining := matrix.GrossValue.Sub(consumed)
		if consumed.Add(order.GrossValue).GreaterThan(matrix.GrossValue) {
			return utils.NewConflict("abatement %s of %s exceeds remaining balance %s of matrix %s",
				order.OrderNumber, order.GrossValue.StringFixed(2), remaining.StringFixed(2), matrixOrderNumber)
		}
		if err := models.InsertInsertionOrder(tx, order); err != nil {
			return err
		}
		consumed = consumed.Add(order.GrossValue)
		_, err = models.EnqueueEvent(tx, EventAbatementCreated, models.ReferenceTypeInsertionOrder, order.ID, AbatementEvent{
			MatrixOrderNumber:    matrixOrderNumber,
			AbatementOrderNumber: order.OrderNumber,
			GrossValue:           order.GrossValue,
			Consumed:             consumed,
			Remaining:            matrix.GrossValue.Sub(consumed),
		})
		return err
	})
	if err != nil {
		err = utils.ClassifyDBError(err, "insertion order", order.OrderNumber)
		if !utils.IsConflict(err) && !utils.IsNotFound(err) && !utils.IsDuplicateKey(err) {
			config.LogError(l.Logger, ledgerModule, "CreateAbatement", "create abatement "+order.OrderNumber, input, err)
		}
		return nil, err
	}
	return order, nil
}

// UpdateInsertionOrder applies cmd to the PI. Raising an Abatement's gross value is
// checked against its Matrix budget under the Matrix lock. Lowering a Matrix gross
// value is allowed even when it leaves the remaining balance negative.
func (l *BalanceLedger) UpdateInsertionOrder(ctx context.Context, orderNumber string, cmd *models.UpdateInsertionOrder) (result *models.InsertionOrder, err error) {
	orderNumber = strings.TrimSpace(orderNumber)
	ctx, span := startSpan(ctx, "BalanceLedger.UpdateInsertionOrder", attribute.String("order", orderNumber))
	defer func() { endSpan(span, err) }()

	current, err := models.GetInsertionOrder(ctx, l.DB, orderNumber)
	if err != nil {
		return nil, err
	}

	lockKey := ""
	if cmd.GrossValue != nil {
		switch current.Kind {
		case models.OrderKindAbatement:
			lockKey = *current.MatrixOrderNumber
		case models.OrderKindMatrix:
			lockKey = current.OrderNumber
		}
	}
	if lockKey != "" {
		unlock, err := l.Locker.Lock(ctx, lockKey)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	var order models.InsertionOrder
	err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var matrix *models.InsertionOrder
		if lockKey != "" {
			m, err := lockMatrixRow(tx, lockKey)
			if err != nil {
				return err
			}
			matrix = m
		}
		if err := tx.Where("id = ?", current.ID).First(&order).Error; err != nil {
			return utils.ClassifyDBError(err, "insertion order", orderNumber)
		}
		previous := order.GrossValue
		if err := models.ApplyInsertionOrderUpdate(tx, &order, cmd); err != nil {
			return err
		}
		if matrix == nil {
			return nil
		}

		children, err := models.FindAbatements(tx, matrix.OrderNumber)
		if err != nil {
			return err
		}
		consumed := sumGross(children)
		if order.IsMatrix() {
			l.warnIfOverdrawn("UpdateInsertionOrder", &order, consumed)
			return nil
		}
		if consumed.GreaterThan(matrix.GrossValue) && order.GrossValue.GreaterThan(previous) {
			return utils.NewConflict("abatement %s of %s exceeds remaining balance %s of matrix %s",
				order.OrderNumber, order.GrossValue.StringFixed(2),
				matrix.GrossValue.Sub(consumed.Sub(order.GrossValue)).StringFixed(2), matrix.OrderNumber)
		}
		return nil
	})
	if err != nil {
		return nil, utils.ClassifyDBError(err, "insertion order", orderNumber)
	}
	return &order, nil
}

// DeleteMatrix removes a Matrix that has no Abatements. The conflict message lists
// every blocking child.
func (l *BalanceLedger) DeleteMatrix(ctx context.Context, matrixOrderNumber string) (err error) {
	matrixOrderNumber = strings.TrimSpace(matrixOrderNumber)
	ctx, span := startSpan(ctx, "BalanceLedger.DeleteMatrix", attribute.String("matrix", matrixOrderNumber))
	defer func() { endSpan(span, err) }()

	unlock, err := l.Locker.Lock(ctx, matrixOrderNumber)
	if err != nil {
		return err
	}
	defer unlock()

	err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		matrix, err := lockMatrixRow(tx, matrixOrderNumber)
		if err != nil {
			return err
		}
		children, err := models.FindAbatements(tx, matrixOrderNumber)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			numbers := make([]string, 0, len(children))
			for _, c := range children {
				numbers = append(numbers, c.OrderNumber)
			}
			return utils.NewConflict("cannot delete matrix %s: existing linked abatements: %s",
				matrixOrderNumber, strings.Join(numbers, ", "))
		}
		if err := models.DeleteInsertionOrderRow(tx, matrix); err != nil {
			return err
		}
		_, err = models.EnqueueEvent(tx, EventMatrixDeleted, models.ReferenceTypeInsertionOrder, matrix.ID, MatrixDeletedEvent{
			MatrixOrderNumber: matrix.OrderNumber,
			GrossValue:        matrix.GrossValue,
		})
		return err
	})
	return utils.ClassifyDBError(err, "matrix", matrixOrderNumber)
}

// DeleteInsertionOrder removes any PI. Matrices go through DeleteMatrix; Abatements
// take their parent's lock so a concurrent budget check never counts a half-deleted row.
func (l *BalanceLedger) DeleteInsertionOrder(ctx context.Context, orderNumber string) error {
	order, err := models.GetInsertionOrder(ctx, l.DB, orderNumber)
	if err != nil {
		return err
	}

	switch order.Kind {
	case models.OrderKindMatrix:
		return l.DeleteMatrix(ctx, order.OrderNumber)
	case models.OrderKindAbatement:
		parent := *order.MatrixOrderNumber
		unlock, err := l.Locker.Lock(ctx, parent)
		if err != nil {
			return err
		}
		defer unlock()
		err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := lockOrderRow(tx, order.OrderNumber)
			if err != nil {
				return err
			}
			if err := models.DeleteInsertionOrderRow(tx, current); err != nil {
				return err
			}
			_, err = models.EnqueueEvent(tx, EventAbatementDeleted, models.ReferenceTypeInsertionOrder, current.ID, AbatementEvent{
				MatrixOrderNumber:    parent,
				AbatementOrderNumber: current.OrderNumber,
				GrossValue:           current.GrossValue,
			})
			return err
		})
		return utils.ClassifyDBError(err, "insertion order", order.OrderNumber)
	default:
		err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := lockOrderRow(tx, order.OrderNumber)
			if err != nil {
				return err
			}
			return models.DeleteInsertionOrderRow(tx, current)
		})
		return utils.ClassifyDBError(err, "insertion order", order.OrderNumber)
	}
}

// ListActiveMatrices returns every Matrix with a strictly positive remaining balance.
// Ties on remaining are broken by order number ascending.
func (l *BalanceLedger) ListActiveMatrices(ctx context.Context, ordering MatrixOrdering) ([]*MatrixBalance, error) {
	if ordering == "" {
		ordering = OrderByRemainingDesc
	}
	db := l.DB.WithContext(ctx)

	var matrices []*models.InsertionOrder
	if err := db.Where("kind = ?", models.OrderKindMatrix).Find(&matrices).Error; err != nil {
		return nil, err
	}
	var children []*models.InsertionOrder
	if err := db.Select("matrix_order_number", "gross_value").
		Where("kind = ? AND matrix_order_number IS NOT NULL", models.OrderKindAbatement).
		Find(&children).Error; err != nil {
		return nil, err
	}

	consumed := make(map[string]decimal.Decimal, len(matrices))
	for _, c := range children {
		consumed[*c.MatrixOrderNumber] = consumed[*c.MatrixOrderNumber].Add(c.GrossValue)
	}

	result := make([]*MatrixBalance, 0, len(matrices))
	for _, m := range matrices {
		used := consumed[m.OrderNumber]
		remaining := m.GrossValue.Sub(used)
		if !remaining.IsPositive() {
			continue
		}
		result = append(result, &MatrixBalance{Matrix: m, Consumed: used, Remaining: remaining})
	}

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch ordering {
		case OrderByOrderNumberAsc:
			return a.Matrix.OrderNumber < b.Matrix.OrderNumber
		case OrderByOrderNumberDesc:
			return a.Matrix.OrderNumber > b.Matrix.OrderNumber
		default:
			if c := a.Remaining.Cmp(b.Remaining); c != 0 {
				return c > 0
			}
			return a.Matrix.OrderNumber < b.Matrix.OrderNumber
		}
	})
	return result, nil
}
