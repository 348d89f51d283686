package tds

import "testing"

func TestApplyEnvChangeDatabaseAndTransaction(t *testing.T) {
	c := &Conn{}

	if err := c.applyEnvChange(EnvChangeToken{Type: EnvDatabase, NewValue: "orders"}); err != nil {
		t.Fatalf("applyEnvChange(database) error: %v", err)
	}
	if c.Database() != "orders" {
		t.Fatalf("Database() = %q; want %q", c.Database(), "orders")
	}

	begin := EnvChangeToken{Type: EnvBeginTran, NewDescriptor: []byte{1, 0, 0, 0, 0, 0, 0, 0}}
	if err := c.applyEnvChange(begin); err != nil {
		t.Fatalf("applyEnvChange(begin tran) error: %v", err)
	}
	if got := c.TransactionDescriptor(); got != 1 {
		t.Fatalf("TransactionDescriptor() after BEGIN = %d; want 1", got)
	}

	if err := c.applyEnvChange(EnvChangeToken{Type: EnvCommitTran}); err != nil {
		t.Fatalf("applyEnvChange(commit tran) error: %v", err)
	}
	if got := c.TransactionDescriptor(); got != 0 {
		t.Fatalf("TransactionDescriptor() after COMMIT = %d; want 0", got)
	}
}

func TestApplyEnvChangeRollbackClearsDescriptor(t *testing.T) {
	c := &Conn{txDescriptor: 42}
	if err := c.applyEnvChange(EnvChangeToken{Type: EnvRollbackTran}); err != nil {
		t.Fatalf("applyEnvChange(rollback) error: %v", err)
	}
	if got := c.TransactionDescriptor(); got != 0 {
		t.Fatalf("TransactionDescriptor() after ROLLBACK = %d; want 0", got)
	}
}

func TestApplyEnvChangeRouting(t *testing.T) {
	c := &Conn{}
	err := c.applyEnvChange(EnvChangeToken{Type: EnvRouting, NewValue: "routing:0:db2.internal:1433"})
	if err == nil {
		t.Fatal("applyEnvChange(routing) should return a *RoutingError")
	}
	re, ok := err.(*RoutingError)
	if !ok {
		t.Fatalf("applyEnvChange(routing) error type = %T; want *RoutingError", err)
	}
	if re.Host != "db2.internal" || re.Port != 1433 {
		t.Fatalf("RoutingError = %+v; want host db2.internal port 1433", re)
	}
}

func TestApplyEnvChangePacketSizeBounds(t *testing.T) {
	c := &Conn{packetSize: 4096}
	if err := c.applyEnvChange(EnvChangeToken{Type: EnvPacketSize, NewValue: "99999999"}); err != nil {
		t.Fatalf("applyEnvChange(packet size) error: %v", err)
	}
	if c.packetSize != 4096 {
		t.Fatalf("packetSize = %d; want unchanged 4096 for an out-of-range value", c.packetSize)
	}
}
