package grpc

import (
	"fmt"
	"time"

	"bazaar/internal/market"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func encodeResult(res market.Result) (*structpb.Struct, error) {
	fields := map[string]any{
		"success": res.OK,
		"code":    string(res.Code),
		"message": res.Message,
	}
	if res.Data != nil {
		fields["data"] = normalize(res.Data)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

// normalize rewrites values into the shapes structpb.NewValue accepts.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case decimal.Decimal:
		return val.StringFixed(2)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

func stringField(in *structpb.Struct, key string) string {
	if v, ok := in.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func boolField(in *structpb.Struct, key string) bool {
	if v, ok := in.GetFields()[key]; ok {
		return v.GetBoolValue()
	}
	return false
}

func listField(in *structpb.Struct, key string) []string {
	v, ok := in.GetFields()[key]
	if !ok {
		return nil
	}
	values := v.GetListValue().GetValues()
	out := make([]string, 0, len(values))
	for _, item := range values {
		out = append(out, item.GetStringValue())
	}
	return out
}

// decimalField accepts either a string ("24.90") or a number.
func decimalField(in *structpb.Struct, key string) (decimal.Decimal, bool) {
	v, ok := in.GetFields()[key]
	if !ok {
		return decimal.Decimal{}, false
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(kind.StringValue)
		return d, err == nil
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(kind.NumberValue), true
	default:
		return decimal.Decimal{}, false
	}
}
