package render

import (
	"strings"
	"time"

	"envplan/internal/enterprise"
	"envplan/internal/placeholder"
)

const dateLayout = "2006年01月02日"

var riskCodes = map[string]string{
	"一般": "L", "一般环境风险": "L", "l": "L", "low": "L",
	"较大": "M", "较大环境风险": "M", "m": "M", "medium": "M",
	"重大": "H", "重大环境风险": "H", "h": "H", "high": "H",
}

var riskLabels = map[string]string{"L": "一般", "M": "较大", "H": "重大"}

// RiskLevelCode maps a Chinese risk label to L, M or H. Unknown labels are L.
func RiskLevelCode(label string) string {
	if code, ok := lookupRiskCode(label); ok {
		return code
	}
	return "L"
}

func lookupRiskCode(label string) (string, bool) {
	code, ok := riskCodes[strings.ToLower(strings.TrimSpace(label))]
	return code, ok
}

type energyItem struct {
	key   string
	label string
	unit  string
}

var energyItems = []energyItem{
	{"electricity", "电力", "万kW·h/a"},
	{"water", "新鲜水", "t/a"},
	{"natural_gas", "天然气", "万m³/a"},
	{"steam", "蒸汽", "t/a"},
	{"coal", "煤", "t/a"},
}

// templateDefaults is every scalar a template may reference.
func templateDefaults(now time.Time) map[string]any {
	d := map[string]any{
		"company_name":             "",
		"credit_code":              "",
		"industry_category":        "",
		"address":                  "",
		"province":                 "",
		"city":                     "",
		"district":                 "",
		"address_detail":           "",
		"longitude":                "",
		"latitude":                 "",
		"legal_person":             "",
		"legal_person_phone":       "",
		"env_manager":              "",
		"env_manager_phone":        "",
		"env_manager_position":     "环保负责人",
		"emergency_contact":        "",
		"emergency_contact_phone":  "",
		"risk_level":               "一般",
		"risk_level_code":          "L",
		"plan_version":             "V1.0",
		"compiler":                 "",
		"reviewer":                 "",
		"approver":                 "",
		"issue_date":               now.Format(dateLayout),
		"compile_date":             now.Format(dateLayout),
		"year":                     now.Format("2006"),
		"start_date":               "",
		"employees":                "",
		"annual_output":            "",
		"investment_total":         "",
		"investment_environmental": "",
		"working_hours":            "",
		"process_description":      "",
		"dominant_wind":            "",
		"river_name":               "",
		"river_distance":           "",
		"river_direction":          "",
		"wastewater":               "",
		"waste_gas":                "",
		"eia_approval":             "",
		"acceptance":               "",
		"pollutant_permit":         "",
		"previous_incidents":       "无",
		"commander_title":          "总指挥",
		"deputy_title":             "副总指挥",
		"member_title":             "应急小组成员",
	}
	for _, key := range listKeys {
		d[key] = []map[string]any{}
	}
	for _, key := range []string{"water_receptors", "air_receptors", "emergency_teams", "energy_consumption"} {
		d[key] = []map[string]any{}
	}
	d["ai_sections"] = map[string]any{}
	return d
}

// listKeys maps template list variables to their blob paths.
var listSources = map[string]string{
	"products":             "production_process.products",
	"raw_materials":        "production_process.raw_materials",
	"hazardous_chemicals":  "production_process.hazardous_chemicals",
	"equipment":            "production_process.equipment",
	"hazardous_waste":      "environment_info.hazardous_waste",
	"nearby_receivers":     "environment_info.nearby_receivers",
	"emergency_materials":  "emergency_resources.emergency_materials",
	"emergency_facilities": "emergency_resources.emergency_facilities",
	"internal_contacts":    "emergency_resources.contact_list_internal",
	"external_contacts":    "emergency_resources.contact_list_external",
	"drill_records":        "compliance_info.drill_records",
}

var listKeys = []string{
	"products", "raw_materials", "hazardous_chemicals", "equipment", "hazardous_waste",
	"nearby_receivers", "emergency_materials", "emergency_facilities",
	"internal_contacts", "external_contacts", "drill_records",
}

var scalarSources = map[string]string{
	"credit_code":              "basic_info.credit_code",
	"industry_category":        "basic_info.industry_category",
	"longitude":                "basic_info.longitude",
	"latitude":                 "basic_info.latitude",
	"legal_person":             "basic_info.legal_person.name",
	"legal_person_phone":       "basic_info.legal_person.phone",
	"env_manager":              "basic_info.environmental_manager.name",
	"env_manager_phone":        "basic_info.environmental_manager.phone",
	"env_manager_position":     "basic_info.environmental_manager.position",
	"emergency_contact":        "basic_info.emergency_contact.name",
	"emergency_contact_phone":  "basic_info.emergency_contact.phone",
	"plan_version":             "basic_info.plan.version",
	"compiler":                 "basic_info.plan.compiler",
	"reviewer":                 "basic_info.plan.reviewer",
	"approver":                 "basic_info.plan.approver",
	"issue_date":               "basic_info.plan.issue_date",
	"start_date":               "basic_info.operation.start_date",
	"employees":                "basic_info.operation.employees",
	"annual_output":            "basic_info.operation.annual_output",
	"investment_total":         "basic_info.operation.investment_total",
	"investment_environmental": "basic_info.operation.investment_environmental",
	"working_hours":            "basic_info.operation.working_hours",
	"process_description":      "production_process.process_description",
	"dominant_wind":            "environment_info.dominant_wind",
	"river_name":               "environment_info.river.name",
	"river_distance":           "environment_info.river.distance",
	"river_direction":          "environment_info.river.direction",
	"wastewater":               "environment_info.wastewater",
	"waste_gas":                "environment_info.waste_gas",
	"eia_approval":             "compliance_info.eia_approval",
	"acceptance":               "compliance_info.acceptance",
	"pollutant_permit":         "compliance_info.pollutant_permit",
	"previous_incidents":       "compliance_info.previous_incidents",
}

// PrepareTemplateData builds the flat variable mapping the document
// templates render from. blob is not modified.
func PrepareTemplateData(blob map[string]any, now time.Time) map[string]any {
	b := enterprise.Blob(blob)
	data := templateDefaults(now)

	for _, key := range enterprise.TopLevelKeys {
		if sec := b.Section(key); sec != nil {
			data[key] = sec
		} else {
			data[key] = map[string]any{}
		}
	}

	set := func(key, value string) {
		if value != "" {
			data[key] = value
		}
	}
	set("company_name", enterprise.CompanyName(b))
	for key, path := range scalarSources {
		set(key, b.String(path))
	}

	province, city, district, detail := addressParts(b)
	set("province", province)
	set("city", city)
	set("district", district)
	set("address_detail", detail)
	set("address", province+city+district+detail)

	if label := b.String("basic_info.risk_level"); label != "" {
		if code, ok := lookupRiskCode(label); ok {
			data["risk_level_code"] = code
			data["risk_level"] = riskLabels[code]
		} else {
			data["risk_level"] = strings.TrimSpace(label)
		}
	}

	for _, key := range listKeys {
		data[key] = flattenList(b, listSources[key])
	}
	water, air := splitReceptors(data["nearby_receivers"].([]map[string]any))
	data["water_receptors"] = water
	data["air_receptors"] = air
	data["emergency_teams"] = emergencyTeams(b, data["internal_contacts"].([]map[string]any))
	data["energy_consumption"] = energyConsumption(b)
	return data
}

func addressParts(b enterprise.Blob) (province, city, district, detail string) {
	v, ok := b.Lookup("basic_info.address")
	if !ok {
		return "", "", "", ""
	}
	if s, isString := v.(string); isString {
		return "", "", "", strings.TrimSpace(s)
	}
	return b.String("basic_info.address.province"), b.String("basic_info.address.city"),
		b.String("basic_info.address.district"), b.String("basic_info.address.detail")
}

// flattenList copies the list at path into fresh records with string
// values. Bare string elements become {"name": s}. Each record gets a
// 1-based "seq".
func flattenList(b enterprise.Blob, path string) []map[string]any {
	v, ok := b.Lookup(path)
	if !ok {
		return []map[string]any{}
	}
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []map[string]any:
		for _, m := range t {
			items = append(items, m)
		}
	case []string:
		for _, s := range t {
			items = append(items, s)
		}
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		rec := map[string]any{}
		switch e := it.(type) {
		case map[string]any:
			for k, val := range e {
				rec[k] = cellString(val)
			}
		case nil:
			continue
		default:
			rec["name"] = cellString(e)
		}
		rec["seq"] = len(out) + 1
		out = append(out, rec)
	}
	return out
}

// cells formats nested values the same way prompts show them: records as
// compact JSON, lists as a name summary.
var cells = placeholder.New()

func cellString(v any) string {
	return strings.TrimSpace(cells.Format(v))
}

// splitReceptors puts receptors whose type or name mentions water into the
// first list and the rest into the second.
func splitReceptors(receivers []map[string]any) (water, air []map[string]any) {
	water, air = []map[string]any{}, []map[string]any{}
	for _, r := range receivers {
		kind, _ := r["type"].(string)
		name, _ := r["name"].(string)
		if strings.Contains(kind, "水") || strings.Contains(name, "水") {
			water = append(water, r)
		} else {
			air = append(air, r)
		}
	}
	return water, air
}

func emergencyTeams(b enterprise.Blob, internal []map[string]any) []map[string]any {
	teams := []map[string]any{}
	add := func(role, name, position, phone string) {
		if strings.TrimSpace(name) == "" {
			return
		}
		teams = append(teams, map[string]any{
			"seq":      len(teams) + 1,
			"role":     role,
			"name":     name,
			"position": position,
			"phone":    phone,
		})
	}
	add("总指挥", b.String("basic_info.legal_person.name"), "法定代表人", b.String("basic_info.legal_person.phone"))
	position := b.String("basic_info.environmental_manager.position")
	if position == "" {
		position = "环保负责人"
	}
	add("副总指挥", b.String("basic_info.environmental_manager.name"), position, b.String("basic_info.environmental_manager.phone"))
	for _, c := range internal {
		name, _ := c["name"].(string)
		role, _ := c["role"].(string)
		if role == "" {
			role = "应急小组成员"
		}
		pos, _ := c["position"].(string)
		phone, _ := c["phone"].(string)
		add(role, name, pos, phone)
	}
	return teams
}

func energyConsumption(b enterprise.Blob) []map[string]any {
	energy := b.Section("production_process.energy")
	out := []map[string]any{}
	for _, item := range energyItems {
		v, ok := energy[item.key]
		if !ok || v == nil {
			continue
		}
		amount, unit := cellString(v), item.unit
		if rec, isRec := v.(map[string]any); isRec {
			amount = cellString(rec["amount"])
			if u := cellString(rec["unit"]); u != "" {
				unit = u
			}
		}
		if amount == "" {
			continue
		}
		out = append(out, map[string]any{
			"seq":    len(out) + 1,
			"name":   item.label,
			"amount": amount,
			"unit":   unit,
		})
	}
	return out
}
