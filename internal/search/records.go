package search

import (
	"canvas/api/internal/state"
)

// RecordsFromState flattens the workspaces held in st. Unconfirmed
// placeholder records are skipped. An empty workspaceID covers all of them.
func RecordsFromState(st state.State, workspaceID string) []Record {
	var owner string
	if st.Auth.User != nil {
		owner = st.Auth.User.ID
	}

	records := make([]Record, 0)
	for _, ws := range st.Data.Workspaces {
		if workspaceID != "" && ws.ID != workspaceID {
			continue
		}
		if state.IsPlaceholder(ws.ID) {
			continue
		}
		wsOwner := ws.OwnerUserID
		if wsOwner == "" {
			wsOwner = owner
		}
		records = append(records, Record{ID: ws.ID, Type: ResultWorkspace, WorkspaceID: ws.ID, OwnerUserID: wsOwner, Title: ws.Name, Body: ws.Subtitle})

		for _, goal := range st.Data.Goals[ws.ID] {
			if state.IsPlaceholder(goal.ID) {
				continue
			}
			records = append(records, Record{ID: goal.ID, Type: ResultGoal, WorkspaceID: ws.ID, OwnerUserID: wsOwner, Title: goal.Title, Body: goal.Summary})
		}
		for _, todo := range st.Data.Todos[ws.ID] {
			if state.IsPlaceholder(todo.ID) {
				continue
			}
			records = append(records, Record{ID: todo.ID, Type: ResultTodo, WorkspaceID: ws.ID, OwnerUserID: wsOwner, Title: todo.Text})
		}
		for _, memory := range st.Data.Memories[ws.ID] {
			if state.IsPlaceholder(memory.ID) {
				continue
			}
			records = append(records, Record{ID: memory.ID, Type: ResultMemory, WorkspaceID: ws.ID, OwnerUserID: wsOwner, Title: memory.Text, Body: memory.Type})
		}
	}
	return records
}
