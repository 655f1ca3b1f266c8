package village

// Demographics 汇总村庄档案的人口分段计数。
type Demographics struct {
	Children int
	Mature   int
	Old      int
}

// Residents 返回派生的常住人口总数。
// 所有写路径（表单提交、接口更新）统一走这里，不再各自做增量修补。
func (d Demographics) Residents() int {
	return d.Children + d.Mature + d.Old
}

// Valid 要求各分段计数非负。
func (d Demographics) Valid() bool {
	return d.Children >= 0 && d.Mature >= 0 && d.Old >= 0
}

// ImageAction 表示档案结构图的三态更新信号。
type ImageAction int

const (
	// ImageKeep 保留现有图片不动。
	ImageKeep ImageAction = iota
	// ImageRemove 删除现有图片（客户端清空预览时发送 "null" 哨兵值）。
	ImageRemove
	// ImageReplace 用新上传的文件替换现有图片。
	ImageReplace
)

// 与最初前端约定保持一致的清除哨兵。
const removeSentinel = "null"

// ResolveImageAction 把 multipart 请求里的文件与字段值归一化为显式三态。
func ResolveImageAction(hasFile bool, fieldValue string) ImageAction {
	if hasFile {
		return ImageReplace
	}
	if fieldValue == removeSentinel {
		return ImageRemove
	}
	return ImageKeep
}

// AllowedImageTypes 列出结构图允许的 MIME 类型。
var AllowedImageTypes = []string{"image/jpg", "image/jpeg", "image/png"}

// ImageTypeAllowed 判断 MIME 类型是否在允许清单内。
func ImageTypeAllowed(contentType string) bool {
	for _, t := range AllowedImageTypes {
		if contentType == t {
			return true
		}
	}
	return false
}
