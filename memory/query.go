package memory

// Field enumerates the Memory fields a Predicate may reference. Using a
// closed enum instead of runtime reflection over struct tags lets storage
// backends match on a switch statement (Design Notes: "Runtime reflection /
// dynamic field access in query builder... replace with a closed set of
// Predicate variants and a field enum").
type Field string

const (
	FieldID            Field = "id"
	FieldContent       Field = "content"
	FieldType          Field = "type"
	FieldCategory      Field = "category"
	FieldTags          Field = "tags"
	FieldImportance    Field = "importance"
	FieldConfidence    Field = "confidence"
	FieldUserID        Field = "user_id"
	FieldSessionID     Field = "session_id"
	FieldMemoryType    Field = "memory_type"
	FieldCreatedAt     Field = "created_at"
	FieldUpdatedAt     Field = "updated_at"
	FieldLastAccessed  Field = "last_accessed"
	FieldExpiresAt     Field = "expires_at"
	FieldConsolidated  Field = "consolidated"
)

// Op enumerates the comparison operators a Predicate may apply (spec §4.2
// "Query builder semantics").
type Op string

const (
	OpEquals   Op = "="
	OpNotEqual Op = "!="
	OpLess     Op = "<"
	OpLessEq   Op = "<="
	OpGreater  Op = ">"
	OpGreaterEq Op = ">="
	OpContains Op = "contains"
	OpIn       Op = "in"
	OpBetween  Op = "between"
)

// Predicate is a single conjunct in a Query. Construct instances with the
// Equals/NotEquals/LessThan/LessOrEqual/GreaterThan/GreaterOrEqual/
// Contains/In/Between helpers rather than the struct literal directly; the
// helpers guarantee a well-formed combination of fields for each Op.
// Semantic and similarity matching are Query fields, not Predicates.
type Predicate struct {
	Field Field
	Op    Op
	Value any
	Low   any
	High  any
	Set   []any
}

// Equals builds an equality predicate.
func Equals(field Field, value any) Predicate { return Predicate{Field: field, Op: OpEquals, Value: value} }

// NotEquals builds an inequality predicate.
func NotEquals(field Field, value any) Predicate { return Predicate{Field: field, Op: OpNotEqual, Value: value} }

// LessThan builds a "<" predicate.
func LessThan(field Field, value any) Predicate { return Predicate{Field: field, Op: OpLess, Value: value} }

// LessOrEqual builds a "<=" predicate.
func LessOrEqual(field Field, value any) Predicate { return Predicate{Field: field, Op: OpLessEq, Value: value} }

// GreaterThan builds a ">" predicate.
func GreaterThan(field Field, value any) Predicate { return Predicate{Field: field, Op: OpGreater, Value: value} }

// GreaterOrEqual builds a ">=" predicate.
func GreaterOrEqual(field Field, value any) Predicate { return Predicate{Field: field, Op: OpGreaterEq, Value: value} }

// Contains builds a substring/membership predicate (for Tags, matches any
// element; for Content/Category, matches a substring).
func Contains(field Field, substr any) Predicate { return Predicate{Field: field, Op: OpContains, Value: substr} }

// In builds a set-membership predicate.
func In(field Field, values ...any) Predicate { return Predicate{Field: field, Op: OpIn, Set: values} }

// Between builds an inclusive range predicate.
func Between(field Field, low, high any) Predicate { return Predicate{Field: field, Op: OpBetween, Low: low, High: high} }

// OrderBy describes the explicit sort applied to query results when no
// relevance-scoring predicate is present (or to break ties).
type OrderBy struct {
	Field Field
	Desc  bool
}

// Semantic scores results by lexical relevance to Text and excludes
// zero-scoring items (spec §4.2). The default Scorer implements the
// token-overlap baseline mandated by spec §9 Open Questions; Query.Scorer
// may override it with a real embedding-backed implementation without
// changing the Query API.
type Semantic struct {
	Text  string
	Limit int
}

// Similar scores results by cosine similarity against Vector and excludes
// items below Threshold (spec §4.2).
type Similar struct {
	Vector    []float32
	Threshold float64
}

// Query is a conjunction of Predicates plus at most one relevance mode
// (Semantic XOR Similar), an optional explicit sort, and pagination.
type Query struct {
	Predicates []Predicate
	Semantic   *Semantic
	Similar    *Similar
	OrderBy    *OrderBy
	Scorer     Scorer
	Limit      int
	Offset     int
}
