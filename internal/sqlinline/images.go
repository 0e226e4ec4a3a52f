package sqlinline

const QInsertImage = `--sql 43fa2a10-3ee4-48e2-9e51-7a48e7da7c3e
insert into images (id, user_id, task_id, prompt, image_url, image_type, metadata, created_at)
values (gen_random_uuid(), $1::bigint, $2::text, $3::text, $4::text, $5::text, coalesce($6::jsonb, '{}'::jsonb), now())
returning id::text;
`

const QSelectImagesByUser = `--sql 60f2b822-9043-4a0c-a838-9ba0fa04d0e0
select id::text, user_id, task_id, prompt, image_url, image_type, metadata, created_at
from images
where user_id = $1::bigint
order by created_at desc
limit $2::int;
`
