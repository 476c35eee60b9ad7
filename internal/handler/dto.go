package handler

import "story-server/internal/models"

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type addNodeRequest struct {
	ID string `json:"id" binding:"required"`
}

type choiceRequest struct {
	Choice models.Choice `json:"choice" binding:"required"`
}

type elementRequest struct {
	Description string `json:"description"`
}

type refineImageRequest struct {
	NodeID string `json:"node_id" binding:"required"`
	Notes  string `json:"notes"`
}

type revertImageRequest struct {
	NodeID     string `json:"node_id" binding:"required"`
	EntryIndex int    `json:"entry_index"`
}

type progressResponse struct {
	NodesWithImages int `json:"nodes_with_images"`
	TotalNodes      int `json:"total_nodes"`
}

type errorResponse struct {
	Error        string `json:"error"`
	EndOfContent bool   `json:"end_of_content,omitempty"`
}
