package media

type ListItemsQuery struct {
	LibraryID   *int `query:"library_id" json:"library_id,omitempty"`
	ContainerID *int `query:"container_id" json:"container_id,omitempty"`
}

type ListContainersQuery struct {
	LibraryID *int `query:"library_id" json:"library_id,omitempty"`
}
