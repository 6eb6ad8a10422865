package corpus

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	numVGPRAttrRe = regexp.MustCompile(`"amdgpu-num-vgpr"="\d+"`)
	numSGPRAttrRe = regexp.MustCompile(`"amdgpu-num-sgpr"="\d+"`)
)

// ApplyRegisterBudget returns a copy of the IR module with every function
// definition carrying amdgpu-num-vgpr/amdgpu-num-sgpr attributes for the
// given budget. Existing budget attributes are rewritten in place; functions
// without them get the attributes inserted ahead of the body's opening brace
// (and ahead of any trailing metadata refs, which must stay last on the
// line).
func ApplyRegisterBudget(ir string, vgpr, sgpr int) string {
	vAttr := fmt.Sprintf(`"amdgpu-num-vgpr"="%d"`, vgpr)
	sAttr := fmt.Sprintf(`"amdgpu-num-sgpr"="%d"`, sgpr)
	insert := " " + vAttr + " " + sAttr

	lines := strings.Split(ir, "\n")
	out := make([]string, 0, len(lines))
	inDefine := false
	pending := false
	for _, line := range lines {
		if strings.HasPrefix(line, "define ") {
			inDefine = true
			pending = true
		}
		if inDefine {
			switch {
			case strings.Contains(line, "amdgpu-num-vgpr") || strings.Contains(line, "amdgpu-num-sgpr"):
				line = numVGPRAttrRe.ReplaceAllString(line, vAttr)
				line = numSGPRAttrRe.ReplaceAllString(line, sAttr)
				pending = false
			case pending && strings.Contains(line, "{"):
				line = insertAttrsBeforeBrace(line, insert)
				pending = false
			case pending && strings.TrimSpace(line) == "{":
				// Brace on its own line: attach to the previous line instead.
				if len(out) > 0 {
					out[len(out)-1] = insertAttrsBeforeMetadata(out[len(out)-1], insert)
				}
				pending = false
			}
		}
		if inDefine && strings.HasPrefix(line, "}") {
			inDefine = false
			pending = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func insertAttrsBeforeBrace(line, attrs string) string {
	braceIdx := strings.Index(line, "{")
	metaIdx := strings.Index(line, " !")
	if metaIdx != -1 && metaIdx < braceIdx {
		return line[:metaIdx] + attrs + line[metaIdx:]
	}
	return line[:braceIdx] + attrs + line[braceIdx:]
}

func insertAttrsBeforeMetadata(line, attrs string) string {
	if metaIdx := strings.Index(line, " !"); metaIdx != -1 {
		return line[:metaIdx] + attrs + line[metaIdx:]
	}
	return line + attrs
}
