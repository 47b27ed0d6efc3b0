package payment

import (
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/merchkit/checkout/internal/domain/checkout"
)

// The intent metadata is a wire contract crossing an async boundary: it is
// written at intent creation and read back, possibly much later, by the
// webhook path, which reconstructs the order purely from it. The schema is
// versioned so either side can detect payloads it does not understand.
const (
	metadataSchemaVersion = "1"

	metaKeyVersion  = "schema_version"
	metaKeyCustomer = "customer_id"
	metaKeyItems    = "items"
	metaKeyAddress  = "shipping_address"
	metaKeyTotal    = "total"
)

// ErrMalformedMetadata is returned when an event payload cannot be decoded
// into a complete order payload. Decoding never succeeds with partial data.
var ErrMalformedMetadata = errors.New("malformed intent metadata")

// Payload is the decoded order payload carried in intent metadata.
type Payload struct {
	CustomerID      string
	Lines           []checkout.ValidatedLine
	ShippingAddress json.RawMessage
	Total           decimal.Decimal
}

// EncodeMetadata serializes the snapshot into gateway metadata string pairs.
func EncodeMetadata(customerID string, snap *checkout.Snapshot) map[string]string {
	var e jx.Encoder
	e.ArrStart()
	for _, line := range snap.Lines {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(line.ProductID)
		e.FieldStart("name")
		e.Str(line.Name)
		e.FieldStart("unit_price")
		e.Str(line.UnitPrice.StringFixed(2))
		e.FieldStart("quantity")
		e.Int(line.Quantity)
		e.FieldStart("image")
		e.Str(line.Image)
		e.ObjEnd()
	}
	e.ArrEnd()

	return map[string]string{
		metaKeyVersion:  metadataSchemaVersion,
		metaKeyCustomer: customerID,
		metaKeyItems:    e.String(),
		metaKeyAddress:  string(snap.ShippingAddress),
		metaKeyTotal:    snap.Totals.Total.StringFixed(2),
	}
}

// DecodeMetadata parses gateway metadata back into an order payload. Any
// missing field, unknown schema version, or undecodable value yields
// ErrMalformedMetadata; partial payloads are never returned.
func DecodeMetadata(meta map[string]string) (*Payload, error) {
	if v := meta[metaKeyVersion]; v != metadataSchemaVersion {
		return nil, errors.Wrapf(ErrMalformedMetadata, "unsupported schema version %q", v)
	}

	customerID := meta[metaKeyCustomer]
	if customerID == "" {
		return nil, errors.Wrap(ErrMalformedMetadata, "missing customer_id")
	}

	lines, err := decodeLines(meta[metaKeyItems])
	if err != nil {
		return nil, errors.Wrap(ErrMalformedMetadata, err.Error())
	}
	if len(lines) == 0 {
		return nil, errors.Wrap(ErrMalformedMetadata, "empty items")
	}

	total, err := decimal.NewFromString(meta[metaKeyTotal])
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedMetadata, "bad total %q", meta[metaKeyTotal])
	}

	addr := meta[metaKeyAddress]
	if addr == "" || !json.Valid([]byte(addr)) {
		return nil, errors.Wrap(ErrMalformedMetadata, "bad shipping_address")
	}

	return &Payload{
		CustomerID:      customerID,
		Lines:           lines,
		ShippingAddress: json.RawMessage(addr),
		Total:           total,
	}, nil
}

func decodeLines(raw string) ([]checkout.ValidatedLine, error) {
	if raw == "" {
		return nil, errors.New("missing items")
	}

	var lines []checkout.ValidatedLine
	d := jx.DecodeStr(raw)
	err := d.Arr(func(d *jx.Decoder) error {
		var line checkout.ValidatedLine
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "product_id":
				v, err := d.Str()
				line.ProductID = v
				return err
			case "name":
				v, err := d.Str()
				line.Name = v
				return err
			case "unit_price":
				s, err := d.Str()
				if err != nil {
					return err
				}
				line.UnitPrice, err = decimal.NewFromString(s)
				return err
			case "quantity":
				v, err := d.Int()
				line.Quantity = v
				return err
			case "image":
				v, err := d.Str()
				line.Image = v
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		if line.ProductID == "" || line.Quantity <= 0 {
			return errors.Errorf("incomplete item %+v", line)
		}
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode items")
	}
	return lines, nil
}
