package recipe

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"recipe-modifier/internal/pkg/common"
)

// UnitSystem 食譜使用的度量系統
type UnitSystem string

const (
	UnitMetric   UnitSystem = "metric"
	UnitImperial UnitSystem = "imperial"
)

// Mode 食材變更模式
type Mode string

const (
	ModeAdd     Mode = "add"
	ModeReplace Mode = "replace"
	ModeNone    Mode = "none"
)

// Recipe 食譜版本快照，提交後不再修改
type Recipe struct {
	ID                string       `json:"id"`
	Title             string       `json:"title"`
	Tagline           string       `json:"tagline,omitempty"`
	Ingredients       []Ingredient `json:"ingredients"`
	Instructions      []string     `json:"instructions"`
	Servings          int          `json:"servings,omitempty"`
	Timing            Timing       `json:"timing"`
	Nutrition         Nutrition    `json:"nutrition"`
	ScienceNotes      []string     `json:"scienceNotes,omitempty"`
	UnitSystem        UnitSystem   `json:"unitSystem,omitempty"`
	VersionNumber     int          `json:"versionNumber"`
	PreviousVersionID string       `json:"previousVersionId,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	DeletedAt         *time.Time   `json:"deletedAt,omitempty"`
}

// Timing 準備與烹調時間（分鐘）
type Timing struct {
	PrepMinutes  int `json:"prepMinutes,omitempty"`
	CookMinutes  int `json:"cookMinutes,omitempty"`
	TotalMinutes int `json:"totalMinutes,omitempty"`
}

// Nutrition 每份營養資訊
type Nutrition struct {
	Calories float64 `json:"calories,omitempty"`
	Protein  float64 `json:"protein,omitempty"`
	Carbs    float64 `json:"carbs,omitempty"`
	Fat      float64 `json:"fat,omitempty"`
	Fiber    float64 `json:"fiber,omitempty"`
	Sugar    float64 `json:"sugar,omitempty"`
	Sodium   float64 `json:"sodium,omitempty"`
}

// System 回傳食譜的度量系統，未設定時視為公制
func (r *Recipe) System() UnitSystem {
	if r == nil || r.UnitSystem == "" {
		return UnitMetric
	}
	return r.UnitSystem
}

// Clone 深拷貝食譜
func (r *Recipe) Clone() *Recipe {
	if r == nil {
		return nil
	}
	out := *r
	out.Ingredients = make([]Ingredient, len(r.Ingredients))
	for i, ing := range r.Ingredients {
		out.Ingredients[i] = ing.clone()
	}
	out.Instructions = append([]string(nil), r.Instructions...)
	out.ScienceNotes = append([]string(nil), r.ScienceNotes...)
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// Measure 單一度量系統下的份量
type Measure struct {
	Amount *float64 `json:"amount"`
	Unit   string   `json:"unit,omitempty"`
}

// Valid 份量必須為有限正數
func (m *Measure) Valid() bool {
	if m == nil || m.Amount == nil {
		return false
	}
	v := *m.Amount
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// Quantity 同時保存公制與英制份量
type Quantity struct {
	Metric   *Measure `json:"metric,omitempty"`
	Imperial *Measure `json:"imperial,omitempty"`
}

// In 依度量系統取得份量，缺少時改用另一個系統
func (q Quantity) In(system UnitSystem) *Measure {
	primary, fallback := q.Metric, q.Imperial
	if system == UnitImperial {
		primary, fallback = q.Imperial, q.Metric
	}
	if primary != nil {
		return primary
	}
	return fallback
}

// Specified 是否帶有任何份量資訊，未提供份量（如「適量」）時為 false
func (q Quantity) Specified() bool {
	return q.Metric != nil || q.Imperial != nil
}

// UnmarshalJSON 接受數字、數字字串、{amount, unit} 或 {metric, imperial}
func (q *Quantity) UnmarshalJSON(data []byte) error {
	*q = Quantity{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil || len(fields) == 0 {
			return nil
		}
		_, hasMetric := fields["metric"]
		_, hasImperial := fields["imperial"]
		if hasMetric || hasImperial {
			q.Metric = decodeMeasure(fields["metric"])
			q.Imperial = decodeMeasure(fields["imperial"])
			return nil
		}
		m := decodeMeasure(data)
		q.Metric, q.Imperial = m, m.copy()
	default:
		m := &Measure{Amount: parseAmount(data)}
		q.Metric, q.Imperial = m, m.copy()
	}
	return nil
}

func decodeMeasure(raw json.RawMessage) *Measure {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	var body struct {
		Amount json.RawMessage `json:"amount"`
		Unit   string          `json:"unit"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		// 非物件時視為單純數值
		return &Measure{Amount: parseAmount(raw)}
	}
	return &Measure{Amount: parseAmount(body.Amount), Unit: body.Unit}
}

// parseAmount 解析數字或數字字串，其他內容回傳 nil
func parseAmount(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
	} else {
		s = string(raw)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

func (m *Measure) copy() *Measure {
	if m == nil {
		return nil
	}
	out := *m
	if m.Amount != nil {
		v := *m.Amount
		out.Amount = &v
	}
	return &out
}

// Item 食材名稱，可能是字串或物件
type Item struct {
	Name string
	raw  json.RawMessage
}

// NewItem 以名稱建立食材
func NewItem(name string) Item {
	return Item{Name: name}
}

// Text 回傳食材比對用的文字，物件形式回傳排序鍵後的 JSON
func (it Item) Text() string {
	if len(it.raw) == 0 {
		return it.Name
	}
	canonical, err := common.CanonicalJSON(it.raw)
	if err != nil {
		return it.Name
	}
	return canonical
}

// MarshalJSON 保留原始物件形式
func (it Item) MarshalJSON() ([]byte, error) {
	if len(it.raw) > 0 {
		return it.raw, nil
	}
	return json.Marshal(it.Name)
}

// UnmarshalJSON 接受字串或含 name 的物件
func (it *Item) UnmarshalJSON(data []byte) error {
	*it = Item{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &it.Name)
	}
	var named struct {
		Name string `json:"name"`
	}
	if data[0] == '{' {
		_ = json.Unmarshal(data, &named)
	}
	it.Name = named.Name
	it.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Ingredient 食材
type Ingredient struct {
	Quantity Quantity `json:"quantity"`
	Unit     string   `json:"unit,omitempty"`
	Item     Item     `json:"item"`
	Notes    string   `json:"notes,omitempty"`
}

// Name 食材顯示名稱
func (i Ingredient) Name() string {
	if i.Item.Name != "" {
		return i.Item.Name
	}
	return i.Item.Text()
}

func (i Ingredient) clone() Ingredient {
	out := i
	out.Quantity = Quantity{Metric: i.Quantity.Metric.copy(), Imperial: i.Quantity.Imperial.copy()}
	if len(i.Item.raw) > 0 {
		out.Item.raw = append(json.RawMessage(nil), i.Item.raw...)
	}
	return out
}

// IngredientChanges 食材變更
type IngredientChanges struct {
	Mode  Mode         `json:"mode"`
	Items []Ingredient `json:"items"`
}

// InstructionChange 步驟變更，Step 為 1 起算的目標位置（可省略）
type InstructionChange struct {
	Action      string `json:"action"`
	Explanation string `json:"explanation,omitempty"`
	Step        int    `json:"step,omitempty"`
}

// UnmarshalJSON 接受純字串步驟，step 可為數字或數字字串
func (c *InstructionChange) UnmarshalJSON(data []byte) error {
	*c = InstructionChange{}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.Action)
	}
	var body struct {
		Action      string          `json:"action"`
		Explanation string          `json:"explanation"`
		Step        json.RawMessage `json:"step"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	c.Action, c.Explanation = body.Action, body.Explanation
	if step := parseAmount(body.Step); step != nil && *step >= 1 && *step < math.MaxInt32 {
		c.Step = int(*step)
	}
	return nil
}

// ChangeSet AI 提出的修改內容
type ChangeSet struct {
	Title        *string             `json:"title,omitempty"`
	Ingredients  *IngredientChanges  `json:"ingredients,omitempty"`
	Instructions []InstructionChange `json:"instructions,omitempty"`
	ScienceNotes []string            `json:"scienceNotes,omitempty"`
}

// DuplicatePair 新食材與既有食材的重複配對
type DuplicatePair struct {
	Existing Ingredient `json:"existing"`
	Proposed Ingredient `json:"proposed"`
	// ProposedIndex 在提案列表中的位置
	ProposedIndex int `json:"proposedIndex"`
}

// Float 建立份量指標
func Float(v float64) *float64 {
	return &v
}

// Qty 以單一份量建立公制與英制相同的 Quantity
func Qty(amount float64, unit string) Quantity {
	return Quantity{
		Metric:   &Measure{Amount: Float(amount), Unit: unit},
		Imperial: &Measure{Amount: Float(amount), Unit: unit},
	}
}
