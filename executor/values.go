package executor

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"crashdb/table"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/xwb1989/sqlparser"
)

func mapColumn(def *sqlparser.ColumnDefinition) (table.Column, error) {
	col := table.Column{Name: def.Name.String()}
	switch strings.ToLower(def.Type.Type) {
	case "int", "integer", "smallint", "tinyint", "mediumint":
		col.Type = table.Integer
	case "float", "double", "real":
		col.Type = table.Float
	case "varchar", "char", "text":
		col.Type = table.Varchar
		if def.Type.Length != nil {
			n, err := strconv.Atoi(string(def.Type.Length.Val))
			if err != nil || n <= 0 {
				return col, errors.Errorf("column %s: bad length %s", col.Name, def.Type.Length.Val)
			}
			col.Length = n
		}
	case "decimal", "numeric":
		col.Type = table.Decimal
	default:
		return col, errors.Wrapf(ErrUnsupported, "column %s: type %s", col.Name, strings.ToUpper(def.Type.Type))
	}
	return col, nil
}

// convert turns a literal into the Go value stored for col.
func convert(col table.Column, expr sqlparser.Expr) (any, error) {
	switch e := expr.(type) {
	case *sqlparser.NullVal:
		return nil, nil
	case *sqlparser.SQLVal:
		return convertLiteral(col, string(e.Val), e.Type)
	case *sqlparser.UnaryExpr:
		lit, ok := e.Expr.(*sqlparser.SQLVal)
		if e.Operator != sqlparser.UMinusStr || !ok || (lit.Type != sqlparser.IntVal && lit.Type != sqlparser.FloatVal) {
			return nil, errors.Wrapf(ErrUnsupported, "value %s", sqlparser.String(e))
		}
		text := string(lit.Val)
		if strings.HasPrefix(text, "-") {
			text = text[1:]
		} else {
			text = "-" + text
		}
		return convertLiteral(col, text, lit.Type)
	default:
		return nil, errors.Wrapf(ErrUnsupported, "value %s", sqlparser.String(expr))
	}
}

func convertLiteral(col table.Column, text string, kind sqlparser.ValType) (any, error) {
	numeric := kind == sqlparser.IntVal || kind == sqlparser.FloatVal
	switch col.Type {
	case table.Integer:
		if kind != sqlparser.IntVal {
			break
		}
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, errors.Errorf("column %s: %s is out of INTEGER range", col.Name, text)
		}
		return int(n), nil
	case table.Float:
		if !numeric {
			break
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "column %s", col.Name)
		}
		return f, nil
	case table.Varchar:
		if kind != sqlparser.StrVal {
			break
		}
		if col.Length > 0 && utf8.RuneCountInString(text) > col.Length {
			return nil, errors.Errorf("column %s: value too long for VARCHAR(%d)", col.Name, col.Length)
		}
		return text, nil
	case table.Decimal:
		if !numeric && kind != sqlparser.StrVal {
			break
		}
		d, err := decimal.NewFromString(text)
		if err != nil {
			return nil, errors.Errorf("column %s: %q is not a decimal", col.Name, text)
		}
		return d, nil
	}
	return nil, errors.Errorf("column %s: cannot store %s in a %s column", col.Name, literalKind(kind), col.Type)
}

func literalKind(kind sqlparser.ValType) string {
	switch kind {
	case sqlparser.IntVal:
		return "an integer"
	case sqlparser.FloatVal:
		return "a float"
	case sqlparser.StrVal:
		return "a string"
	default:
		return "this literal"
	}
}

// FormatValue renders a stored value for display. NULL prints as NULL.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case string:
		return val
	case decimal.Decimal:
		return val.String()
	default:
		return "?"
	}
}
