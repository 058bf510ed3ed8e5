// =============================================================================
// 文件: internal/ledger/errors.go
// 描述: 不变量违反错误 - 生产环境返回类型化错误，严格模式直接 panic
// =============================================================================

package ledger

import (
	"fmt"

	"github.com/mrcgq/233/internal/protocol"
)

// InvariantError 协议逻辑不变量违反
// 双重确认、移除未知包号、包号回绕等都属于此类：
// 生产环境由调用方记录并隔离，测试环境直接崩溃暴露问题
type InvariantError struct {
	Op     string
	Packet protocol.PacketNumber
	Reason string
}

// Error 实现 error 接口
func (e *InvariantError) Error() string {
	return fmt.Sprintf("账本不变量违反 [%s] 包号 %d: %s", e.Op, e.Packet, e.Reason)
}

// violation 构造不变量错误；严格模式下 panic
func (l *Ledger) violation(op string, pn protocol.PacketNumber, reason string) error {
	err := &InvariantError{Op: op, Packet: pn, Reason: reason}
	if l.strict {
		panic(err)
	}
	l.invariantViolations++
	return err
}
