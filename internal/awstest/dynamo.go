// Package awstest provides in-memory fakes for the client interfaces in
// internal/awsx, shared by the store tests. The DynamoDB fake interprets the
// small expression dialect the stores actually use (conditions joined with
// AND, SET/ADD/REMOVE updates, list_append, if_not_exists, size) rather than
// pattern-matching whole expression strings.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a stored DynamoDB item.
type Item = map[string]types.AttributeValue

// FakeDynamo is an in-memory multi-table DynamoDB fake.
type FakeDynamo struct {
	mu     sync.Mutex
	keys   map[string]string // table -> pk attribute name
	tables map[string]map[string]Item

	PutCalls      int
	UpdateCalls   int
	TransactCalls int
}

// NewFakeDynamo creates a fake with the given table -> primary key mapping.
func NewFakeDynamo(keys map[string]string) *FakeDynamo {
	return &FakeDynamo{
		keys:   keys,
		tables: map[string]map[string]Item{},
	}
}

// Seed inserts an item directly, bypassing conditions.
func (f *FakeDynamo) Seed(table string, item Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure(table)
	f.tables[table][f.pkOf(table, item)] = item
}

// Raw returns the stored item for a key, or nil.
func (f *FakeDynamo) Raw(table, pk string) Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure(table)
	return f.tables[table][pk]
}

// Len returns the number of items in a table.
func (f *FakeDynamo) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *FakeDynamo) ensure(table string) {
	if _, ok := f.tables[table]; !ok {
		f.tables[table] = map[string]Item{}
	}
}

func (f *FakeDynamo) pkOf(table string, item Item) string {
	attr := f.keys[table]
	v, ok := item[attr].(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return v.Value
}

func (f *FakeDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := *params.TableName
	f.ensure(table)
	item, ok := f.tables[table][f.pkOf(table, params.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *FakeDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutCalls++
	table := *params.TableName
	f.ensure(table)
	pk := f.pkOf(table, params.Item)
	if pk == "" {
		return nil, errors.New("missing primary key in put item")
	}
	existing := f.tables[table][pk]
	if params.ConditionExpression != nil {
		ok, err := evalCondition(*params.ConditionExpression, existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	f.tables[table][pk] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *FakeDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := *params.TableName
	f.ensure(table)
	pk := f.pkOf(table, params.Key)
	existing := f.tables[table][pk]
	if params.ConditionExpression != nil {
		ok, err := evalCondition(*params.ConditionExpression, existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	delete(f.tables[table], pk)
	return &dyn.DeleteItemOutput{}, nil
}

func (f *FakeDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++
	table := *params.TableName
	f.ensure(table)
	pk := f.pkOf(table, params.Key)
	item, exists := f.tables[table][pk]
	if params.ConditionExpression != nil {
		ok, err := evalCondition(*params.ConditionExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	if !exists {
		// DynamoDB upserts: start from the key attributes.
		item = copyItem(params.Key)
	}
	if params.UpdateExpression != nil {
		if err := applyUpdate(*params.UpdateExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	f.tables[table][pk] = item
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (f *FakeDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := *params.TableName
	f.ensure(table)
	var out []Item
	for _, item := range f.tables[table] {
		if params.KeyConditionExpression != nil {
			ok, err := evalCondition(*params.KeyConditionExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		if params.FilterExpression != nil {
			ok, err := evalCondition(*params.FilterExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, copyItem(item))
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *FakeDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := *params.TableName
	f.ensure(table)
	var out []Item
	for _, item := range f.tables[table] {
		if params.FilterExpression != nil {
			ok, err := evalCondition(*params.FilterExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, copyItem(item))
	}
	return &dyn.ScanOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *FakeDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TransactCalls++

	// First pass: verify every condition against current state.
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		code := "None"
		switch {
		case it.Put != nil:
			p := it.Put
			table := *p.TableName
			f.ensure(table)
			existing := f.tables[table][f.pkOf(table, p.Item)]
			if p.ConditionExpression != nil {
				ok, err := evalCondition(*p.ConditionExpression, existing, p.ExpressionAttributeNames, p.ExpressionAttributeValues)
				if err != nil {
					return nil, err
				}
				if !ok {
					code = "ConditionalCheckFailed"
				}
			}
		case it.Update != nil:
			u := it.Update
			table := *u.TableName
			f.ensure(table)
			existing := f.tables[table][f.pkOf(table, u.Key)]
			if u.ConditionExpression != nil {
				ok, err := evalCondition(*u.ConditionExpression, existing, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
				if err != nil {
					return nil, err
				}
				if !ok {
					code = "ConditionalCheckFailed"
				}
			}
		case it.Delete != nil:
			d := it.Delete
			table := *d.TableName
			f.ensure(table)
			existing := f.tables[table][f.pkOf(table, d.Key)]
			if d.ConditionExpression != nil {
				ok, err := evalCondition(*d.ConditionExpression, existing, d.ExpressionAttributeNames, d.ExpressionAttributeValues)
				if err != nil {
					return nil, err
				}
				if !ok {
					code = "ConditionalCheckFailed"
				}
			}
		}
		if code != "None" {
			failed = true
		}
		c := code
		reasons[i] = types.CancellationReason{Code: &c}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	// Second pass: apply all writes.
	for _, it := range params.TransactItems {
		switch {
		case it.Put != nil:
			table := *it.Put.TableName
			f.tables[table][f.pkOf(table, it.Put.Item)] = copyItem(it.Put.Item)
		case it.Update != nil:
			u := it.Update
			table := *u.TableName
			pk := f.pkOf(table, u.Key)
			item, exists := f.tables[table][pk]
			if !exists {
				item = copyItem(u.Key)
			}
			if u.UpdateExpression != nil {
				if err := applyUpdate(*u.UpdateExpression, item, u.ExpressionAttributeNames, u.ExpressionAttributeValues); err != nil {
					return nil, err
				}
			}
			f.tables[table][pk] = item
		case it.Delete != nil:
			table := *it.Delete.TableName
			delete(f.tables[table], f.pkOf(table, it.Delete.Key))
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// --- expression evaluation ---

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if real, ok := names[name]; ok {
			return real
		}
	}
	return name
}

// evalCondition evaluates a conjunction of simple clauses against an item.
// item == nil means the item does not exist.
func evalCondition(expr string, item Item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	for _, clause := range strings.Split(expr, " AND ") {
		clause = strings.TrimSpace(clause)
		ok, err := evalClause(clause, item, names, values)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalClause(clause string, item Item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if strings.HasPrefix(clause, "attribute_not_exists(") {
		attr := resolveName(inner(clause), names)
		return item == nil || item[attr] == nil, nil
	}
	if strings.HasPrefix(clause, "attribute_exists(") {
		attr := resolveName(inner(clause), names)
		return item != nil && item[attr] != nil, nil
	}

	parts := strings.Fields(clause)
	if len(parts) != 3 {
		return false, fmt.Errorf("awstest: unsupported condition clause %q", clause)
	}
	left, op, right := parts[0], parts[1], parts[2]

	rv, ok := values[right]
	if !ok {
		return false, fmt.Errorf("awstest: missing expression value %s", right)
	}

	var lv types.AttributeValue
	if strings.HasPrefix(left, "size(") {
		if item == nil {
			return false, nil
		}
		attr := resolveName(inner(left), names)
		list, ok := item[attr].(*types.AttributeValueMemberL)
		if !ok {
			return false, nil
		}
		lv = numAV(float64(len(list.Value)))
	} else {
		if item == nil {
			return false, nil
		}
		lv = item[resolveName(left, names)]
		if lv == nil {
			return false, nil
		}
	}
	return compare(lv, rv, op)
}

func compare(a, b types.AttributeValue, op string) (bool, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bn, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false, nil
		}
		x, _ := strconv.ParseFloat(av.Value, 64)
		y, _ := strconv.ParseFloat(bn.Value, 64)
		switch op {
		case "=":
			return x == y, nil
		case "<>":
			return x != y, nil
		case ">=":
			return x >= y, nil
		case "<=":
			return x <= y, nil
		case ">":
			return x > y, nil
		case "<":
			return x < y, nil
		}
	case *types.AttributeValueMemberS:
		bs, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return false, nil
		}
		switch op {
		case "=":
			return av.Value == bs.Value, nil
		case "<>":
			return av.Value != bs.Value, nil
		}
	case *types.AttributeValueMemberBOOL:
		bb, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return false, nil
		}
		switch op {
		case "=":
			return av.Value == bb.Value, nil
		case "<>":
			return av.Value != bb.Value, nil
		}
	}
	return false, fmt.Errorf("awstest: unsupported comparison %s", op)
}

// applyUpdate applies SET / ADD / REMOVE clauses in place.
func applyUpdate(expr string, item Item, names map[string]string, values map[string]types.AttributeValue) error {
	for _, section := range splitSections(expr) {
		switch {
		case strings.HasPrefix(section, "SET "):
			for _, assign := range splitTop(strings.TrimPrefix(section, "SET "), ',') {
				if err := applySet(strings.TrimSpace(assign), item, names, values); err != nil {
					return err
				}
			}
		case strings.HasPrefix(section, "ADD "):
			parts := strings.Fields(strings.TrimPrefix(section, "ADD "))
			if len(parts) != 2 {
				return fmt.Errorf("awstest: unsupported ADD clause %q", section)
			}
			attr := resolveName(parts[0], names)
			inc, ok := values[parts[1]].(*types.AttributeValueMemberN)
			if !ok {
				return fmt.Errorf("awstest: ADD value %s is not a number", parts[1])
			}
			cur := 0.0
			if n, ok := item[attr].(*types.AttributeValueMemberN); ok {
				cur, _ = strconv.ParseFloat(n.Value, 64)
			}
			delta, _ := strconv.ParseFloat(inc.Value, 64)
			item[attr] = numAV(cur + delta)
		case strings.HasPrefix(section, "REMOVE "):
			for _, attr := range splitTop(strings.TrimPrefix(section, "REMOVE "), ',') {
				delete(item, resolveName(strings.TrimSpace(attr), names))
			}
		default:
			return fmt.Errorf("awstest: unsupported update section %q", section)
		}
	}
	return nil
}

func applySet(assign string, item Item, names map[string]string, values map[string]types.AttributeValue) error {
	eq := strings.Index(assign, " = ")
	if eq < 0 {
		return fmt.Errorf("awstest: malformed SET assignment %q", assign)
	}
	path := resolveName(strings.TrimSpace(assign[:eq]), names)
	rhs := strings.TrimSpace(assign[eq+3:])

	v, err := evalValue(rhs, item, names, values)
	if err != nil {
		return err
	}
	item[path] = v
	return nil
}

func evalValue(rhs string, item Item, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	// plain placeholder
	if strings.HasPrefix(rhs, ":") && !strings.ContainsAny(rhs, " (") {
		v, ok := values[rhs]
		if !ok {
			return nil, fmt.Errorf("awstest: missing expression value %s", rhs)
		}
		return v, nil
	}

	if strings.HasPrefix(rhs, "list_append(") {
		args := splitTop(inner(rhs), ',')
		if len(args) != 2 {
			return nil, fmt.Errorf("awstest: malformed list_append %q", rhs)
		}
		base, err := evalValue(strings.TrimSpace(args[0]), item, names, values)
		if err != nil {
			return nil, err
		}
		tail, err := evalValue(strings.TrimSpace(args[1]), item, names, values)
		if err != nil {
			return nil, err
		}
		bl, ok1 := base.(*types.AttributeValueMemberL)
		tl, ok2 := tail.(*types.AttributeValueMemberL)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("awstest: list_append on non-list in %q", rhs)
		}
		merged := append(append([]types.AttributeValue{}, bl.Value...), tl.Value...)
		return &types.AttributeValueMemberL{Value: merged}, nil
	}

	if strings.HasPrefix(rhs, "if_not_exists(") && !strings.Contains(rhs, ")+") && !strings.Contains(rhs, ") +") {
		args := splitTop(inner(rhs), ',')
		attr := resolveName(strings.TrimSpace(args[0]), names)
		if cur, ok := item[attr]; ok {
			return cur, nil
		}
		return evalValue(strings.TrimSpace(args[1]), item, names, values)
	}

	// arithmetic: "<operand> + :v" or "<operand> - :v"
	for _, op := range []string{" + ", " - "} {
		if i := strings.LastIndex(rhs, op); i > 0 && !insideParens(rhs, i) {
			left, err := evalValue(strings.TrimSpace(rhs[:i]), item, names, values)
			if err != nil {
				return nil, err
			}
			right, err := evalValue(strings.TrimSpace(rhs[i+3:]), item, names, values)
			if err != nil {
				return nil, err
			}
			ln, ok1 := left.(*types.AttributeValueMemberN)
			rn, ok2 := right.(*types.AttributeValueMemberN)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("awstest: arithmetic on non-number in %q", rhs)
			}
			x, _ := strconv.ParseFloat(ln.Value, 64)
			y, _ := strconv.ParseFloat(rn.Value, 64)
			if op == " + " {
				return numAV(x + y), nil
			}
			return numAV(x - y), nil
		}
	}

	// bare attribute reference
	if strings.HasPrefix(rhs, "if_not_exists(") {
		args := splitTop(inner(rhs), ',')
		attr := resolveName(strings.TrimSpace(args[0]), names)
		if cur, ok := item[attr]; ok {
			return cur, nil
		}
		return evalValue(strings.TrimSpace(args[1]), item, names, values)
	}
	attr := resolveName(rhs, names)
	if cur, ok := item[attr]; ok {
		return cur, nil
	}
	return nil, fmt.Errorf("awstest: unresolved operand %q", rhs)
}

// splitSections splits an update expression into SET/ADD/REMOVE sections.
func splitSections(expr string) []string {
	var sections []string
	rest := strings.TrimSpace(expr)
	for rest != "" {
		next := len(rest)
		for _, kw := range []string{" SET ", " ADD ", " REMOVE "} {
			if i := strings.Index(rest[1:], kw); i >= 0 && i+1 < next {
				next = i + 1
			}
		}
		sections = append(sections, strings.TrimSpace(rest[:next]))
		rest = strings.TrimSpace(rest[next:])
	}
	return sections
}

// splitTop splits on sep at paren depth zero.
func splitTop(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func insideParens(s string, idx int) bool {
	depth := 0
	for i := 0; i < idx; i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth > 0
}

// inner extracts the text between the first '(' and the matching last ')'.
func inner(s string) string {
	open := strings.Index(s, "(")
	close := strings.LastIndex(s, ")")
	if open < 0 || close < open {
		return ""
	}
	return s[open+1 : close]
}

func numAV(f float64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(f, 'f', -1, 64)}
}

func copyItem(item Item) Item {
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
