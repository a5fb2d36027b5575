package normalizer

import (
	"fmt"
	"maps"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"wisefido-sleep/internal/decoder"
	"wisefido-sleep/internal/models"
)

// TimeBase 来源时钟定义：零点、偏移单位、时长单位
type TimeBase struct {
	Epoch        time.Time
	OffsetUnit   time.Duration
	DurationUnit time.Duration
}

// Table 单个来源的规范化表
type Table struct {
	Codes       map[string]models.SleepPhaseType // 来源编码 → 规范阶段
	TimeBase    TimeBase
	MotionScale float64 // 来源加速度单位 → g
}

// bleCodes Sleepace 约定：0=清醒, 1=浅睡眠, 2=深睡眠, 3=REM睡眠
var bleCodes = map[string]models.SleepPhaseType{
	"0": models.PhaseAwake,
	"1": models.PhaseLight,
	"2": models.PhaseDeep,
	"3": models.PhaseREM,
}

func bleTable(source models.SourceKind) Table {
	p := decoder.BLEProfiles[source]
	return Table{
		Codes:       maps.Clone(bleCodes),
		TimeBase:    TimeBase{Epoch: p.Epoch, OffsetUnit: p.OffsetUnit, DurationUnit: p.DurationUnit},
		MotionScale: p.MotionScale,
	}
}

var unixEpoch = time.Unix(0, 0).UTC()

// DefaultTables 每个已知来源的默认规范化表
//
// Apple 的 awake / inBed 不在表中，按未知编码处理为 Light。
func DefaultTables() map[models.SourceKind]Table {
	return map[models.SourceKind]Table{
		models.SourceBLEBand: bleTable(models.SourceBLEBand),
		models.SourceBLERing: bleTable(models.SourceBLERing),
		models.SourceSamsungHealth: {
			Codes: map[string]models.SleepPhaseType{
				"40001": models.PhaseAwake,
				"40002": models.PhaseLight,
				"40003": models.PhaseDeep,
				"40004": models.PhaseREM,
			},
			TimeBase:    TimeBase{Epoch: unixEpoch, OffsetUnit: time.Millisecond, DurationUnit: time.Millisecond},
			MotionScale: 0.001,
		},
		models.SourceAppleHealth: {
			Codes: map[string]models.SleepPhaseType{
				"asleepDeep":        models.PhaseDeep,
				"asleepREM":         models.PhaseREM,
				"asleepCore":        models.PhaseLight,
				"asleepUnspecified": models.PhaseLight,
			},
			TimeBase:    TimeBase{Epoch: unixEpoch, OffsetUnit: time.Second, DurationUnit: time.Second},
			MotionScale: 1,
		},
		models.SourceManualImport: {
			Codes: map[string]models.SleepPhaseType{
				"deep":  models.PhaseDeep,
				"rem":   models.PhaseREM,
				"light": models.PhaseLight,
				"awake": models.PhaseAwake,
			},
			TimeBase:    TimeBase{Epoch: unixEpoch, OffsetUnit: time.Second, DurationUnit: time.Minute},
			MotionScale: 1,
		},
	}
}

// tablesFile NORMALIZER_TABLES_FILE 的结构
//
//	tables:
//	  samsung_health:
//	    codes:
//	      "40005": Light
//	    motion_scale: 0.001
type tablesFile struct {
	Tables map[string]struct {
		Codes       map[string]string `yaml:"codes"`
		MotionScale *float64          `yaml:"motion_scale"`
	} `yaml:"tables"`
}

// LoadTablesYAML 读取 YAML 覆盖文件，叠加到默认表上
//
// 文件中的编码追加或替换默认编码；未出现的来源保持默认。
// 时钟定义由设备固件决定，不允许覆盖。
func LoadTablesYAML(path string) (map[models.SourceKind]Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read normalizer tables: %w", err)
	}
	return ParseTablesYAML(data)
}

// ParseTablesYAML 解析 YAML 覆盖内容
func ParseTablesYAML(data []byte) (map[models.SourceKind]Table, error) {
	var file tablesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse normalizer tables: %w", err)
	}

	tables := DefaultTables()
	for name, override := range file.Tables {
		source, err := models.ParseSourceKind(name)
		if err != nil {
			return nil, fmt.Errorf("normalizer tables: %w", err)
		}

		table := tables[source]
		codes := make(map[string]models.SleepPhaseType, len(table.Codes)+len(override.Codes))
		for code, phase := range table.Codes {
			codes[code] = phase
		}
		for code, phase := range override.Codes {
			p := models.SleepPhaseType(phase)
			if !p.Valid() {
				return nil, fmt.Errorf("normalizer tables: %s code %q: unknown phase %q", source, code, phase)
			}
			codes[code] = p
		}
		table.Codes = codes

		if override.MotionScale != nil {
			if *override.MotionScale <= 0 {
				return nil, fmt.Errorf("normalizer tables: %s motion_scale must be positive", source)
			}
			table.MotionScale = *override.MotionScale
		}
		tables[source] = table
	}
	return tables, nil
}
